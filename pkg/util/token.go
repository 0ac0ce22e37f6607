package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateActivationCode returns a one-time code handed to the licensee
// alongside the key, formatted as four dash separated hex groups.
func GenerateActivationCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := strings.ToUpper(hex.EncodeToString(b))
	return code[0:4] + "-" + code[4:8] + "-" + code[8:12] + "-" + code[12:16], nil
}
