package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

func NowUTC() time.Time {
	return time.Now().UTC()
}

func RandString(n int) (string, error) {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}

// BestEffort runs fn and logs a failure instead of returning it. Callers use
// it for side effects that must not fail the primary operation.
func BestEffort(logger *Logger, op string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil && logger != nil {
		logger.Errorf("best-effort %s: %v", op, err)
	}
}
