// Package logging provides structured logging with secret redaction helpers.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Field names whose values must never reach log output.
var secretFieldNames = []string{
	"client_secret",
	"clientsecret",
	"client_token",
	"clienttoken",
	"access_token",
	"accesstoken",
	"authorization",
	"akasso",
	"akatoken",
	"xsrf",
	"password",
	"secret",
}

// NewLogger creates the CLI logger on stderr. A terminal gets the human console
// format; anything else (pipes, CI) gets JSON lines.
func NewLogger(level string) zerolog.Logger {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
	}
	return newLogger(os.Stderr, level)
}

// NewJSONLogger creates a JSON-formatted logger writing to w.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "edgectl").
		Logger()
}

// IsSecretField checks if a field or header name carries credential material.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a hash prefix.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}
