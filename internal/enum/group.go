package enum

// ProtocolGroup is one top-level node of the roles tree.
type ProtocolGroup struct {
	Protocol string
	Roles    []string
}

// Group arranges roles under protocol. When protocol is empty each role is
// labelled with its own name, which keeps every role selectable even for
// sources the declaration pattern cannot match. Group order follows first
// appearance.
func Group(roles []string, protocol string) []ProtocolGroup {
	var groups []ProtocolGroup
	index := map[string]int{}
	for _, role := range roles {
		label := protocol
		if label == "" {
			label = role
		}
		pos, ok := index[label]
		if !ok {
			pos = len(groups)
			index[label] = pos
			groups = append(groups, ProtocolGroup{Protocol: label})
		}
		groups[pos].Roles = append(groups[pos].Roles, role)
	}
	return groups
}

// Count returns the number of roles across all groups.
func Count(groups []ProtocolGroup) int {
	total := 0
	for _, g := range groups {
		total += len(g.Roles)
	}
	return total
}
