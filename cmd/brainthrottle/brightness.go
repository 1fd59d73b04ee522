package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BrightnessActuator reads and writes the brightness of the single controlled
// display. Values are in [0,1].
//
// A missing or unsupported display is reported as errDisplayUnavailable;
// callers treat that as "no value", not as a reason to stop.
type BrightnessActuator interface {
	Brightness() (float64, error)
	SetBrightness(v float64) error
}

var errDisplayUnavailable = errors.New("display brightness unavailable")

// newBrightnessActuator builds the backend selected in config.
func newBrightnessActuator(cfg DisplayConfig) (BrightnessActuator, error) {
	switch cfg.Backend {
	case "", displayBackendSysfs:
		return newSysfsBacklight(sysfsBacklightRoot, cfg.Device)
	case displayBackendBrightnessctl:
		cmd := cfg.Command
		if cmd == "" {
			cmd = defaultBrightnessCmd
		}
		return newBrightnessctl(cmd, cfg.Device, execRunner), nil
	case displayBackendNone:
		return unavailableDisplay{}, nil
	default:
		return nil, fmt.Errorf("unknown display backend %q", cfg.Backend)
	}
}

// ============================================================================
// sysfs backlight
// ============================================================================

// sysfsBacklight drives /sys/class/backlight/<device>.
type sysfsBacklight struct {
	dir string
	max int64
}

// newSysfsBacklight opens the named backlight under root. With an empty name
// the first device (in lexical order) is used.
func newSysfsBacklight(root, name string) (*sysfsBacklight, error) {
	if name == "" {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("list backlights: %w", errors.Join(errDisplayUnavailable, err))
		}
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no backlight under %s: %w", root, errDisplayUnavailable)
		}
		sort.Strings(names)
		name = names[0]
	}

	dir := filepath.Join(root, name)
	max, err := readSysfsInt(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return nil, fmt.Errorf("backlight %s: %w", name, errors.Join(errDisplayUnavailable, err))
	}
	if max <= 0 {
		return nil, fmt.Errorf("backlight %s: max_brightness is %d: %w", name, max, errDisplayUnavailable)
	}

	return &sysfsBacklight{dir: dir, max: max}, nil
}

func (b *sysfsBacklight) Brightness() (float64, error) {
	raw, err := readSysfsInt(filepath.Join(b.dir, "brightness"))
	if err != nil {
		return 0, fmt.Errorf("read brightness: %w", err)
	}
	return clampUnit(float64(raw) / float64(b.max)), nil
}

func (b *sysfsBacklight) SetBrightness(v float64) error {
	raw := int64(math.Round(clampUnit(v) * float64(b.max)))
	path := filepath.Join(b.dir, "brightness")
	if err := os.WriteFile(path, []byte(strconv.FormatInt(raw, 10)), 0o644); err != nil {
		return fmt.Errorf("write brightness: %w", err)
	}
	return nil
}

func (b *sysfsBacklight) String() string { return "sysfs:" + b.dir }

func readSysfsInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// ============================================================================
// brightnessctl
// ============================================================================

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// brightnessctlTimeout bounds each call so a wedged helper cannot stall the
// daemon loop.
const brightnessctlTimeout = 2 * time.Second

// brightnessctl drives the display through the brightnessctl(1) helper, for
// setups where the daemon cannot write sysfs directly.
type brightnessctl struct {
	command string
	device  string
	run     commandRunner
}

func newBrightnessctl(command, device string, run commandRunner) *brightnessctl {
	return &brightnessctl{command: command, device: device, run: run}
}

func (b *brightnessctl) args(rest ...string) []string {
	args := []string{"-m"}
	if b.device != "" {
		args = append(args, "-d", b.device)
	}
	return append(args, rest...)
}

// info returns the current and max raw values.
func (b *brightnessctl) info() (cur, max int64, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), brightnessctlTimeout)
	defer cancel()

	out, err := b.run(ctx, b.command, b.args("info")...)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return 0, 0, errors.Join(errDisplayUnavailable, err)
		}
		return 0, 0, fmt.Errorf("%s info: %w", b.command, err)
	}
	return parseBrightnessctlInfo(out)
}

func (b *brightnessctl) Brightness() (float64, error) {
	cur, max, err := b.info()
	if err != nil {
		return 0, err
	}
	return clampUnit(float64(cur) / float64(max)), nil
}

func (b *brightnessctl) SetBrightness(v float64) error {
	_, max, err := b.info()
	if err != nil {
		return err
	}
	raw := int64(math.Round(clampUnit(v) * float64(max)))

	ctx, cancel := context.WithTimeout(context.Background(), brightnessctlTimeout)
	defer cancel()

	if _, err := b.run(ctx, b.command, b.args("-q", "set", strconv.FormatInt(raw, 10))...); err != nil {
		return fmt.Errorf("%s set: %w", b.command, err)
	}
	return nil
}

func (b *brightnessctl) String() string { return "brightnessctl:" + b.device }

// parseBrightnessctlInfo parses machine-readable `brightnessctl -m info`
// output, e.g. "intel_backlight,backlight,12000,50%,24000". Only the first
// line (the selected device) is used.
func parseBrightnessctlInfo(out []byte) (cur, max int64, err error) {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if line == "" {
		return 0, 0, fmt.Errorf("empty brightnessctl output: %w", errDisplayUnavailable)
	}

	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return 0, 0, fmt.Errorf("unexpected brightnessctl output %q", line)
	}
	cur, err = strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse current brightness %q: %w", fields[2], err)
	}
	max, err = strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse max brightness %q: %w", fields[4], err)
	}
	if max <= 0 {
		return 0, 0, fmt.Errorf("max brightness is %d: %w", max, errDisplayUnavailable)
	}
	return cur, max, nil
}

// ============================================================================
// No display
// ============================================================================

// unavailableDisplay is used when no backend could be opened. The daemon keeps
// running; every penalty is skipped.
type unavailableDisplay struct{}

func (unavailableDisplay) Brightness() (float64, error) { return 0, errDisplayUnavailable }
func (unavailableDisplay) SetBrightness(float64) error  { return errDisplayUnavailable }
func (unavailableDisplay) String() string               { return "none" }
