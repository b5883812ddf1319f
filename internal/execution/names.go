package execution

import "strings"

// SafeID lowercases id and replaces anything Docker rejects in names and
// tags with '-'. Distinct ids that differ only in case share a name.
func SafeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '_', r == '.', r == '-':
			return r
		case 'A' <= r && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, id)
}

// ResourceName is the image tag and container name used for id.
func ResourceName(prefix, id string) string {
	return prefix + SafeID(id)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
