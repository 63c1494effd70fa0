package tracking

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// GenerateEventID returns the deterministic ID for an action on entityID by
// the visitor holding sessionID, for the current UTC day. Meta merges a pixel
// event and a server event with the same name and ID within 48 hours.
func GenerateEventID(kind EventKind, entityID, sessionID string) string {
	return EventIDAt(kind, entityID, sessionID, time.Now())
}

// EventIDAt is GenerateEventID for an explicit instant.
func EventIDAt(kind EventKind, entityID, sessionID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", kind, entityID, SessionFingerprint(sessionID), at.UTC().Format("2006-01-02"))
}

// SessionFingerprint is a short stable digest of a session token, used so the
// token itself never appears in event IDs sent to browsers or ad platforms.
func SessionFingerprint(sessionID string) string {
	if sessionID == "" {
		return "anon"
	}
	sum := blake2b.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:8])
}
