package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandlerRedactsKeyMaterial(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "json", &slog.HandlerOptions{ReplaceAttr: redactAttr}))
	log.Info("wallet_issued",
		slog.String("agent_id", "a-1"),
		slog.String("public_key", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"),
		slog.String("private_key", "deadbeef"),
		slog.String("aek", "cafebabe"),
		slog.String("master_key_id", "mk_0011"),
		slog.Group("request", slog.String("authorization", "Bearer abc")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["private_key"] != redactedValue || entry["aek"] != redactedValue {
		t.Fatalf("key material leaked: %s", buf.String())
	}
	if entry["public_key"] == redactedValue || entry["master_key_id"] != "mk_0011" {
		t.Fatalf("public identifiers should stay visible: %s", buf.String())
	}
	group, _ := entry["request"].(map[string]any)
	if group["authorization"] != redactedValue {
		t.Fatalf("nested authorization leaked: %s", buf.String())
	}
	if strings.Contains(buf.String(), "deadbeef") || strings.Contains(buf.String(), "cafebabe") {
		t.Fatalf("raw secret found in output: %s", buf.String())
	}
}

func TestRotatingWriterDefaults(t *testing.T) {
	t.Parallel()

	if _, err := newRotatingWriter(AuditConfig{}); err == nil {
		t.Fatal("expected error for empty audit path")
	}

	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	w, err := newRotatingWriter(AuditConfig{Path: path})
	if err != nil {
		t.Fatalf("new rotating writer: %v", err)
	}
	defer w.Close()
	if w.MaxSize != 100 || w.MaxBackups != 7 || w.MaxAge != 30 {
		t.Fatalf("unexpected defaults %+v", w)
	}
	if _, err := w.Write([]byte("{}\n")); err != nil {
		t.Fatalf("write audit line: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
