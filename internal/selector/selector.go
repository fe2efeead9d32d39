// Package selector builds the role@protocol identifiers passed to
// `nuscr --fsm=`. A selector always carries exactly one separator.
package selector

import "strings"

// Separator joins the role and protocol halves of a selector.
const Separator = "@"

// Sanitize strips every separator from s so it can be used as one half of a
// selector.
func Sanitize(s string) string {
	return strings.ReplaceAll(s, Separator, "")
}

// Build returns the canonical role@protocol selector.
//
// A role that already contains a separator is treated as a possibly composite
// value: empty segments are dropped, the first segment becomes the role and
// the second (when present) overrides protocol.
func Build(role, protocol string) string {
	if !strings.Contains(role, Separator) {
		return Sanitize(role) + Separator + Sanitize(protocol)
	}
	var parts []string
	for _, part := range strings.Split(role, Separator) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	r := ""
	if len(parts) > 0 {
		r = parts[0]
	}
	p := protocol
	if len(parts) > 1 {
		p = parts[1]
	}
	return Sanitize(r) + Separator + Sanitize(p)
}

// Split breaks a selector into its role and protocol halves. Values without a
// separator are returned as a bare role.
func Split(sel string) (role, protocol string) {
	role, protocol, _ = strings.Cut(sel, Separator)
	return role, protocol
}

// HasProtocol reports whether Build would take the protocol from value
// itself, i.e. value has at least two non-empty segments. "A@" and "A" do not.
func HasProtocol(value string) bool {
	segments := 0
	for _, part := range strings.Split(value, Separator) {
		if part != "" {
			segments++
		}
	}
	return segments > 1
}
