package main

import "github.com/riftdl/riftdl/cmd"

func main() {
	cmd.Execute()
}
