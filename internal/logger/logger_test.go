package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestSlogBridge_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "export"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithExportID(ctx, "exp-9")
	ctx = WithFlow(ctx, "full")
	log.InfoContext(ctx, "export done", "rows", 237, "err", errors.New("boom"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"msg":        "export done",
		"level":      "info",
		"component":  "export",
		"request_id": "req-1",
		"export_id":  "exp-9",
		"flow":       "full",
		"err":        "boom",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("%s=%v want %v (record %v)", k, rec[k], v, rec)
		}
	}
	if rec["rows"] != float64(237) {
		t.Fatalf("rows=%v", rec["rows"])
	}
}

func TestSlogBridge_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn record missing")
	}
	Build(Config{Level: "info"}, &buf)
}

func TestWithRequestID_Generates(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id %q", id)
	}
}
