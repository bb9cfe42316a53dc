package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or change the running daemon's settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the daemon's current settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}
		var raw map[string]any
		if err := client.get("/config", &raw); err != nil {
			return err
		}
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings, given as dotted.path=value pairs merged onto the current config",
	Long: `set reads the daemon's current settings, applies each key=value pair
you give (e.g. "connections.max_concurrent_downloads=8"), and PUTs the
result back. Values are parsed as JSON when possible, otherwise as a
plain string.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}

		var current map[string]any
		if err := client.get("/config", &current); err != nil {
			return err
		}

		for _, kv := range args {
			key, value, ok := splitKV(kv)
			if !ok {
				return fmt.Errorf("expected section.field=value, got %q", kv)
			}
			if err := setDotted(current, key, parseValue(value)); err != nil {
				return err
			}
		}

		var updated map[string]any
		if err := client.put("/config", current, &updated); err != nil {
			return err
		}
		data, _ := json.MarshalIndent(updated, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// setDotted walks section.field (exactly two segments, matching Settings'
// one level of nesting) and sets it on a map decoded from JSON.
func setDotted(m map[string]any, path string, value any) error {
	dot := -1
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return fmt.Errorf("expected section.field, got %q", path)
	}
	section, field := path[:dot], path[dot+1:]

	sub, exists := m[section]
	if !exists {
		return fmt.Errorf("unknown section %q", section)
	}
	subMap, ok := sub.(map[string]any)
	if !ok {
		return fmt.Errorf("%q is not a settings section", section)
	}
	subMap[field] = value
	return nil
}

func parseValue(s string) any {
	var v any
	if json.Unmarshal([]byte(s), &v) == nil {
		return v
	}
	return s
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd)
}
