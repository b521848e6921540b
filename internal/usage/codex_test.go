package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCodexNotInstalled(t *testing.T) {
	p := NewCodexProvider(filepath.Join(t.TempDir(), "missing"), "codex")
	got := marshalResult(t, p.Fetch(context.Background()))
	if got != `{"installed":false}` {
		t.Fatalf("unexpected result %s", got)
	}
}

func TestCodexNoSessionFiles(t *testing.T) {
	p := NewCodexProvider(t.TempDir(), "codex")
	got := marshalResult(t, p.Fetch(context.Background()))
	if got != `{"installed":true,"has_data":false}` {
		t.Fatalf("unexpected result %s", got)
	}
}

func TestCodexNoRateLimitData(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, filepath.Join(dir, "a.jsonl"), turnContextLine("gpt-5"))

	got := marshalResult(t, NewCodexProvider(dir, "codex").Fetch(context.Background()))
	if got != `{"installed":true,"has_data":false}` {
		t.Fatalf("unexpected result %s", got)
	}
}

func TestCodexUsageShape(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, filepath.Join(dir, "2026", "02", "26", "rollout.jsonl"),
		turnContextLine("gpt-5-codex"),
		`{"type":"event_msg","payload":{"type":"token_count","rate_limits":{"limit_id":"codex","plan_type":"pro","primary":{"used_percent":42.5,"resets_at":1772136000},"secondary":{"used_percent":7}}}}`,
	)

	got := marshalResult(t, NewCodexProvider(dir, "codex").Fetch(context.Background()))
	want := `{"installed":true,"five_hour_pct":42.5,"seven_day_pct":7,"five_hour_reset":"2026-02-26T20:00:00+00:00","seven_day_reset":null,"plan_type":"pro","model":"gpt-5-codex"}`
	if got != want {
		t.Fatalf("unexpected result:\n got %s\nwant %s", got, want)
	}
}

func TestCodexMissingWindowsDefaultToZero(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, filepath.Join(dir, "a.jsonl"),
		`{"type":"event_msg","payload":{"type":"token_count","rate_limits":{"limit_id":"codex"}}}`,
	)

	res := NewCodexProvider(dir, "codex").Fetch(context.Background())
	var got map[string]any
	if err := json.Unmarshal([]byte(marshalResult(t, res)), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["five_hour_pct"] != 0.0 || got["seven_day_pct"] != 0.0 {
		t.Fatalf("expected zero percents, got %v", got)
	}
	if got["five_hour_reset"] != nil || got["plan_type"] != "" || got["model"] != "" {
		t.Fatalf("unexpected defaults %v", got)
	}
}

func TestCodexUnreadableSessionsDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	res := NewCodexProvider(dir, "codex").Fetch(context.Background())
	if !res.IsInstalled() || !res.Failed() {
		t.Fatalf("expected installed failure, got %s", marshalResult(t, res))
	}
}

func marshalResult(t *testing.T, r Result) string {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
