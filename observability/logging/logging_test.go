package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup("banknoded", "test", &buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("Banknode status changed", slog.String("to", "IS_CAPABLE"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["to"] != "IS_CAPABLE" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestSetupWithOptionsWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banknoded.log")
	logger, closer := SetupWithOptions("banknoded", "", Options{Level: slog.LevelDebug, File: path, MaxSizeMB: 1})
	logger.Debug("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !bytes.Contains(data, []byte("written to file")) {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("rpc_password", "hunter2"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %v", got)
	}
	if got := MaskField("vin", "abcd:0"); got.Value.String() != "abcd:0" {
		t.Fatalf("allowlisted key redacted: %v", got)
	}
	if got := MaskField("operator_key", ""); got.Value.String() != "" {
		t.Fatalf("empty value must stay empty, got %v", got)
	}
}
