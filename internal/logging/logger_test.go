package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestIsSecretField(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		expected bool
	}{
		{"client secret", "client_secret", true},
		{"client token", "client_token", true},
		{"access token", "access_token", true},
		{"authorization header", "Authorization", true},
		{"sso cookie", "AKASSO", true},
		{"xsrf cookie", "XSRF-TOKEN", true},
		{"host", "host", false},
		{"section", "section", false},
		{"account switch key", "accountSwitchKey", false},
		{"property id", "propertyId", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsSecretField(tt.field)
			if got != tt.expected {
				t.Errorf("IsSecretField(%q) = %v, want %v", tt.field, got, tt.expected)
			}
		})
	}
}

func TestRedactValue(t *testing.T) {
	result := RedactValue("SOMESECRETVALUE+xyz=")
	if !strings.HasPrefix(result, "[REDACTED:sha256:") {
		t.Errorf("Expected [REDACTED:sha256:...], got %s", result)
	}
	if !strings.HasSuffix(result, "]") {
		t.Errorf("Expected trailing ], got %s", result)
	}

	if result != RedactValue("SOMESECRETVALUE+xyz=") {
		t.Error("Same input should produce same redacted value")
	}
	if result == RedactValue("differentSecret") {
		t.Error("Different inputs should produce different redacted values")
	}
}

func TestRedactEmptyValue(t *testing.T) {
	if result := RedactValue(""); result != "" {
		t.Errorf("Empty input should return empty, got %q", result)
	}
}

func TestJSONLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "warn")

	logger.Info().Msg("dropped")
	logger.Warn().Str("bulkSearchId", "5").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line at warn level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "edgectl" {
		t.Errorf("expected component edgectl, got %v", entry["component"])
	}
	if entry["bulkSearchId"] != "5" {
		t.Errorf("expected bulkSearchId field, got %v", entry["bulkSearchId"])
	}
}

func TestJSONLoggerBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "loud")
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output for fallback level: %q", buf.String())
	}
}
