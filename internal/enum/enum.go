// Package enum parses the line-oriented output of `nuscr --enum` and pulls
// protocol names out of source documents.
package enum

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrNoProtocol reports a document with no `protocol <Name>` declaration.
var ErrNoProtocol = errors.New("enum: protocol name not found")

var (
	headerPrefixes = []string{"roles:", "protocols:"}
	protocolDecl   = regexp.MustCompile(`(?i)protocol\s+([A-Za-z0-9_]+)`)
)

// ParseRoles extracts role names from enumeration output. Header lines and
// blank lines are skipped; every other line contributes the text before its
// first comma or colon. Duplicates are kept.
func ParseRoles(raw string) []string {
	var roles []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isHeader(line) {
			continue
		}
		name := line
		if idx := strings.IndexAny(line, ",:"); idx >= 0 {
			name = line[:idx]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		roles = append(roles, name)
	}
	return roles
}

func isHeader(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range headerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// ProtocolName returns the first protocol declared in source. Files that
// declare several protocols only ever yield the first one.
func ProtocolName(source string) (string, bool) {
	m := protocolDecl.FindStringSubmatch(source)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ProtocolNames returns every protocol declaration in source order.
func ProtocolNames(source string) []string {
	matches := protocolDecl.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// ProtocolNameFromFile reads path and returns its first protocol declaration.
func ProtocolNameFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("enum: read %s: %w", path, err)
	}
	name, ok := ProtocolName(string(data))
	if !ok {
		return "", fmt.Errorf("%w in %s", ErrNoProtocol, path)
	}
	return name, nil
}
