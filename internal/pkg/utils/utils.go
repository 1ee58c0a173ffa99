package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var usernameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// GenerateOrderID generates a unique order ID for payments.
func GenerateOrderID() string {
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), RandomHex(4))
}

// RandomHex generates a random hex string of n bytes.
func RandomHex(n int) string {
	if n <= 0 {
		n = 8
	}
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RandomCode generates a random lowercase alphanumeric code of given length.
func RandomCode(length int) string {
	const charset = "abcdefghijkmnopqrstuvwxyz23456789"
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		b[i] = charset[n.Int64()]
	}
	return string(b)
}

// GenerateUsername builds an upstream account name from the operator prefix and the owner id.
// Panels reject most punctuation, so the result is sanitized.
func GenerateUsername(prefix, ownerID string) string {
	prefix = SanitizeUsername(prefix)
	if prefix == "" {
		prefix = "user"
	}
	owner := SanitizeUsername(ownerID)
	if owner == "" {
		return prefix + "_" + RandomCode(6)
	}
	return prefix + "_" + owner + "_" + RandomCode(4)
}

// SanitizeUsername strips characters panels do not accept in account names.
func SanitizeUsername(username string) string {
	return usernameSanitizer.ReplaceAllString(strings.TrimSpace(username), "")
}

// FormatNumber adds comma separators to a number.
func FormatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var result strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}
	if neg {
		return "-" + result.String()
	}
	return result.String()
}

// Excerpt trims s to at most n bytes for operator diagnostics.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
