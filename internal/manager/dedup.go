package manager

import (
	"net/url"
	"path/filepath"
	"sort"
	"strings"
)

// dedupKey normalizes (url, output_dir) into the string the registry's
// secondary map is keyed on, so "http://EX.com/f.mp4?b=2&a=1" and
// "http://ex.com/f.mp4?a=1&b=2" submitted against the same output
// directory collide the way a user expects.
func dedupKey(rawurl, outputDir string) string {
	return normalizeURL(rawurl) + "|" + normalizeDir(outputDir)
}

func normalizeURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(rawurl))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
		u.RawQuery = b.String()
	}

	return u.String()
}

func normalizeDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	return abs
}
