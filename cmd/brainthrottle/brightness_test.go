package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func writeBacklight(t *testing.T, root, name, cur, max string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte(cur+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSysfsBacklight_ReadWrite(t *testing.T) {
	root := t.TempDir()
	dir := writeBacklight(t, root, "intel_backlight", "12000", "24000")

	b, err := newSysfsBacklight(root, "intel_backlight")
	if err != nil {
		t.Fatalf("newSysfsBacklight: %v", err)
	}

	got, err := b.Brightness()
	if err != nil || got != 0.5 {
		t.Fatalf("Brightness() = %v, %v; want 0.5", got, err)
	}

	if err := b.SetBrightness(0.395); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(dir, "brightness"))
	if string(raw) != "9480" {
		t.Fatalf("raw brightness = %q, want 9480", raw)
	}

	// Out-of-range targets are clamped.
	_ = b.SetBrightness(1.4)
	raw, _ = os.ReadFile(filepath.Join(dir, "brightness"))
	if string(raw) != "24000" {
		t.Fatalf("raw brightness = %q, want 24000", raw)
	}
}

func TestSysfsBacklight_PicksFirstDevice(t *testing.T) {
	root := t.TempDir()
	writeBacklight(t, root, "nv_backlight", "1", "10")
	writeBacklight(t, root, "acpi_video0", "7", "10")

	b, err := newSysfsBacklight(root, "")
	if err != nil {
		t.Fatalf("newSysfsBacklight: %v", err)
	}
	if filepath.Base(b.dir) != "acpi_video0" {
		t.Fatalf("picked %s, want acpi_video0", b.dir)
	}
}

func TestSysfsBacklight_Unavailable(t *testing.T) {
	root := t.TempDir()
	if _, err := newSysfsBacklight(root, ""); !errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("empty root: err = %v, want errDisplayUnavailable", err)
	}
	if _, err := newSysfsBacklight(filepath.Join(root, "missing"), ""); !errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("missing root: err = %v, want errDisplayUnavailable", err)
	}

	writeBacklight(t, root, "broken", "0", "0")
	if _, err := newSysfsBacklight(root, "broken"); !errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("zero max: err = %v, want errDisplayUnavailable", err)
	}
}

func TestParseBrightnessctlInfo(t *testing.T) {
	cur, max, err := parseBrightnessctlInfo([]byte("intel_backlight,backlight,12000,50%,24000\n"))
	if err != nil || cur != 12000 || max != 24000 {
		t.Fatalf("parse = %d, %d, %v", cur, max, err)
	}

	cur, _, err = parseBrightnessctlInfo([]byte("a,backlight,3,30%,10\nb,backlight,9,90%,10\n"))
	if err != nil || cur != 3 {
		t.Fatalf("multi-line: cur=%d err=%v, want first line", cur, err)
	}

	for _, bad := range []string{"", "a,b,c", "a,backlight,x,1%,10", "a,backlight,1,1%,y"} {
		if _, _, err := parseBrightnessctlInfo([]byte(bad)); err == nil {
			t.Errorf("parseBrightnessctlInfo(%q) should fail", bad)
		}
	}
	if _, _, err := parseBrightnessctlInfo([]byte("a,backlight,0,0%,0")); !errors.Is(err, errDisplayUnavailable) {
		t.Errorf("zero max: err = %v, want errDisplayUnavailable", err)
	}
}

// fakeBrightnessctl records invocations and answers "info" with a fixed line.
type fakeBrightnessctl struct {
	info  string
	err   error
	calls [][]string
}

func (f *fakeBrightnessctl) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	if args[len(args)-1] == "info" {
		return []byte(f.info), nil
	}
	return nil, nil
}

func TestBrightnessctl_ReadAndSet(t *testing.T) {
	fake := &fakeBrightnessctl{info: "intel_backlight,backlight,300,30%,1000"}
	b := newBrightnessctl("brightnessctl", "intel_backlight", fake.run)

	got, err := b.Brightness()
	if err != nil || got != 0.3 {
		t.Fatalf("Brightness() = %v, %v", got, err)
	}

	if err := b.SetBrightness(0.25); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	last := strings.Join(fake.calls[len(fake.calls)-1], " ")
	if last != "brightnessctl -m -d intel_backlight -q set 250" {
		t.Fatalf("set invocation = %q", last)
	}
}

func TestBrightnessctl_MissingBinaryIsUnavailable(t *testing.T) {
	fake := &fakeBrightnessctl{err: &exec.Error{Name: "brightnessctl", Err: exec.ErrNotFound}}
	b := newBrightnessctl("brightnessctl", "", fake.run)

	if _, err := b.Brightness(); !errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("err = %v, want errDisplayUnavailable", err)
	}

	fake.err = errors.New("exit status 1")
	if _, err := b.Brightness(); err == nil || errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("helper failure should be a plain error, got %v", err)
	}
}

func TestNewBrightnessActuator(t *testing.T) {
	if _, err := newBrightnessActuator(DisplayConfig{Backend: "ddc"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	d, err := newBrightnessActuator(DisplayConfig{Backend: displayBackendNone})
	if err != nil {
		t.Fatalf("none backend: %v", err)
	}
	if _, err := d.Brightness(); !errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("none backend read = %v", err)
	}
	if err := d.SetBrightness(0.5); !errors.Is(err, errDisplayUnavailable) {
		t.Fatalf("none backend write = %v", err)
	}

	d, err = newBrightnessActuator(DisplayConfig{Backend: displayBackendBrightnessctl})
	if err != nil {
		t.Fatalf("brightnessctl backend: %v", err)
	}
	if bc := d.(*brightnessctl); bc.command != defaultBrightnessCmd {
		t.Fatalf("command = %q, want default", bc.command)
	}
}
