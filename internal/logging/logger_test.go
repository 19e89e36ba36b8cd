package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("production", "loud"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}

func TestNewWithWriterEmitsServiceField(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter("production", zerolog.InfoLevel, &buf)
	logger.Info().Str("lead_id", "abc").Msg("lead created")
	logger.Debug().Msg("suppressed")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != serviceName {
		t.Fatalf("expected service=%s, got %v", serviceName, line["service"])
	}
	if line["lead_id"] != "abc" {
		t.Fatalf("expected lead_id field, got %v", line["lead_id"])
	}
}
