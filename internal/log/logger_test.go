package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "cinepro-test"})

	l := WithComponent("playback")
	l.Info().Str("state", "resolving").Msg("transition")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "playback" {
		t.Errorf("component = %v, want playback", entry["component"])
	}
	if entry["service"] != "cinepro-test" {
		t.Errorf("service = %v, want cinepro-test", entry["service"])
	}

	// Later calls are ignored.
	Configure(Config{Level: "error", Service: "other"})
	buf.Reset()
	l2 := WithComponent("x")
	l2.Info().Msg("still here")
	if buf.Len() == 0 {
		t.Error("second Configure replaced the logger")
	}
}
