package config

import (
	"os"
	"path/filepath"
	"testing"

	"greenline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.SweepEnabled() {
		t.Fatalf("sweep should be enabled by default")
	}
	if cfg.Sweep.Schedule != "5 0 * * *" {
		t.Fatalf("unexpected schedule %q", cfg.Sweep.Schedule)
	}
	admin, ok := cfg.RBAC.Roles["admin"]
	if !ok || len(admin.Permissions) != 2 || admin.Permissions[0] != domain.CapabilityLockManage {
		t.Fatalf("admin role should grant lock management, got %+v", admin)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("timezone: Europe/Paris\nlog:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Paris" {
		t.Fatalf("location: %v %v", loc, err)
	}
	if cfg.Notify.QueueSize != 256 {
		t.Fatalf("queue size default lost: %d", cfg.Notify.QueueSize)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad timezone":  "timezone: Mars/Olympus\n",
		"bad schedule":  "sweep:\n  schedule: \"every day\"\n",
		"bad level":     "log:\n  level: loud\n",
		"bad format":    "log:\n  format: xml\n",
		"hook no url":   "notify:\n  webhooks:\n    - events: [task-locked]\n",
		"unknown event": "notify:\n  webhooks:\n    - url: http://x\n      events: [task-exploded]\n",
		"empty perm":    "rbac:\n  roles:\n    ops:\n      permissions: [\"\"]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "UTC" {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	doc := "sweep:\n  enabled: false\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SweepEnabled() {
		t.Fatalf("sweep should be disabled")
	}
}
