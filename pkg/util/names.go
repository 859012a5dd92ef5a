package util

import "strings"

const fullIDLength = 64

// ShortID returns the 12-character short form of a container ID.
// IDs that are already short (or anything under 12 characters) pass through unchanged.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// IsFullID reports whether id looks like a full 64-character container hash.
func IsFullID(id string) bool {
	if len(id) != fullIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// CleanName strips the leading slash the inspect endpoint puts on container names
func CleanName(name string) string {
	return strings.TrimPrefix(name, "/")
}

// StackName extracts the compose-project or swarm-stack name from container labels
func StackName(labels map[string]string) string {
	if labels == nil {
		return ""
	}

	keys := []string{
		"com.docker.compose.project",
		"com.docker.stack.namespace",
	}

	for _, key := range keys {
		if val, ok := labels[key]; ok && val != "" {
			return val
		}
	}
	return ""
}
