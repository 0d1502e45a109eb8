package security

import (
	"errors"
	"os"
	"strings"
)

// ErrInvalidSecret is returned when the configured token secret is empty or unreadable.
var ErrInvalidSecret = errors.New("invalid token secret")

const filePrefix = "file://"

// LoadSecret returns the token key from s. s may be the key itself or file://<path>
// naming a file that holds it; surrounding whitespace is trimmed either way.
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidSecret
	}
	if !strings.HasPrefix(s, filePrefix) {
		return []byte(s), nil
	}
	b, err := os.ReadFile(strings.TrimPrefix(s, filePrefix))
	if err != nil {
		return nil, err
	}
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) == 0 {
		return nil, ErrInvalidSecret
	}
	return b, nil
}
