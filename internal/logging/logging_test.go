package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Info, FormatText)
	l.Debugf("should not appear")
	l.Infof("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("Debugf should be filtered at Info level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("Infof should have been logged: %q", out)
	}
}

func TestWithComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Trace, FormatText).WithComponent("dispatch")
	l.Infof("hit")
	if !strings.Contains(buf.String(), "[dispatch]") {
		t.Fatalf("expected component tag in output: %q", buf.String())
	}
}

func TestJSONFormatIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Info, FormatJSON)
	l.Infof("cache miss for %s", "a.cpp")

	var parsed map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("expected valid JSON output, got %q: %v", buf.String(), err)
	}
	if parsed["message"] != "cache miss for a.cpp" {
		t.Fatalf("message = %v", parsed["message"])
	}
}

func TestNewFromTraceFlagSelectsLevel(t *testing.T) {
	if NewFromTraceFlag(false).level != Info {
		t.Fatalf("expected Info level when tracing is disabled")
	}
	if NewFromTraceFlag(true).level != Trace {
		t.Fatalf("expected Trace level when tracing is enabled")
	}
}
