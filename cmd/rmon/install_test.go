package main

import (
	"strings"
	"testing"
)

func TestRenderUnit(t *testing.T) {
	unit, err := renderUnit(unitParams{
		Binary:  "/usr/local/bin/rmon",
		WorkDir: "/srv/radio",
		Config:  "/srv/radio/configs/radio_monitor.yaml",
	})
	if err != nil {
		t.Fatalf("renderUnit failed: %v", err)
	}
	text := string(unit)

	want := "ExecStart=/usr/local/bin/rmon --config /srv/radio/configs/radio_monitor.yaml run --start"
	if !strings.Contains(text, want) {
		t.Errorf("unit missing %q:\n%s", want, text)
	}
	if !strings.Contains(text, "WorkingDirectory=/srv/radio") {
		t.Errorf("unit missing working directory:\n%s", text)
	}
	if !strings.Contains(text, "WantedBy=default.target") {
		t.Errorf("user units must be wanted by default.target:\n%s", text)
	}
}

func TestRenderUnit_NoConfig(t *testing.T) {
	unit, err := renderUnit(unitParams{Binary: "/usr/bin/rmon", WorkDir: "/home/me"})
	if err != nil {
		t.Fatalf("renderUnit failed: %v", err)
	}
	if strings.Contains(string(unit), "--config") {
		t.Errorf("no --config expected without a config file:\n%s", unit)
	}
	if !strings.Contains(string(unit), "ExecStart=/usr/bin/rmon run --start") {
		t.Errorf("unexpected ExecStart:\n%s", unit)
	}
}

func TestUnitDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := unitDir()
	if err != nil {
		t.Fatalf("unitDir failed: %v", err)
	}
	if dir != "/tmp/xdg/systemd/user" {
		t.Errorf("unitDir = %q", dir)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"abc":          "****",
		"abcdefgh1234": "****1234",
	}
	for in, want := range tests {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}
