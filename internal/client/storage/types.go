// Package storage provides the durable key-value stores that back the
// cockpit session. Every backend implements Storage.
package storage

import "context"

// Keys of the persisted session entries.
const (
	KeyUserID    = "USER_ID"
	KeyRegionID  = "REGION_ID"
	KeyPilotRole = "PILOT_ROLE"
	KeyAuthToken = "AUTH_TOKEN"
	// KeyAPIURL lets a tester point the cockpit at another API without rebuilding.
	KeyAPIURL = "API_URL"
)

// SessionKeys lists the entries cleared together on logout.
var SessionKeys = []string{KeyUserID, KeyRegionID, KeyPilotRole, KeyAuthToken}

// Storage is a string key-value store that survives process restarts.
type Storage interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. The write is durable when Set returns.
	Set(ctx context.Context, key, value string) error
	// Remove deletes all given keys in a single operation.
	Remove(ctx context.Context, keys ...string) error
}
