package domain

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the authenticated principal every storage prefix derives from.
// ID is the stable identity id issued at registration; Email is the
// human-readable label embedded in the prefix.
type Identity struct {
	ID    string
	Email string
}

// StoredPrefix is a persisted prefix assignment for one identity.
type StoredPrefix struct {
	IdentityID string
	Prefix     string
	CreatedAt  time.Time
}

// BuildPrefix constructs the storage prefix for a label and identity id.
// The format {label}_{identityId} is a wire format: external readers
// reconstruct it to locate a user's objects.
func BuildPrefix(label, identityID string) string {
	return fmt.Sprintf("%s_%s", label, identityID)
}

// PrefixIdentityID extracts the identity id embedded in a prefix. The label
// may itself contain underscores (emails do), so the id is everything after
// the last one.
func PrefixIdentityID(prefix string) (string, error) {
	idx := strings.LastIndex(prefix, "_")
	if idx <= 0 || idx == len(prefix)-1 {
		return "", fmt.Errorf("malformed prefix %q", prefix)
	}
	return prefix[idx+1:], nil
}
