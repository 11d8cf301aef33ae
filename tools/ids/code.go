package ids

import (
	"strings"

	"github.com/aidarkhanov/nanoid/v2"
	"github.com/google/uuid"
)

const (
	TrackingCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	TrackingCodeLength   = 6
)

// TrackingCode returns a fresh share code such as "AB12CD".
func TrackingCode() (string, error) {
	return nanoid.GenerateString(TrackingCodeAlphabet, TrackingCodeLength)
}

// NormalizeTrackingCode upper-cases and trims user input. ok is false when the
// result is not exactly six characters of A-Z0-9.
func NormalizeTrackingCode(code string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	return c, ValidTrackingCode(c)
}

func ValidTrackingCode(code string) bool {
	if len(code) != TrackingCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(TrackingCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// MessageID is used for change-feed and event frame ids.
func MessageID() string {
	return uuid.NewString()
}
