package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadEntries reads a blocklist/whitelist file: UTF-8 text, one entry per
// line, leading/trailing whitespace trimmed, empty lines and lines
// starting with '#' skipped. An empty path returns no entries and no
// error, since both BLOCKLIST_PATH and WHITELIST_PATH are optional.
func LoadEntries(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries, scanner.Err()
}
