package ui

import "regexp"

var escapeSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// strip removes styling so tests can compare plain text.
func strip(s string) string {
	return escapeSequence.ReplaceAllString(s, "")
}
