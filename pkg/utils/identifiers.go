package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID generates a unique run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of an identifier, used in branch
// names and log lines.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// BranchName derives the git branch name for a run.
func BranchName(runID string) string {
	return "devflow/" + ShortID(runID)
}

// SanitizeIdentifier makes an identifier safe for git refs and filesystem
// paths by replacing characters that break either.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	return sanitized
}
