package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("brainthrottle v%s\n", version)
	fmt.Println("Dims the display while you skim")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  brainthrottle [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Watches mouse-wheel scrolling. When the scroll volume within")
	fmt.Println("  a session crosses a threshold, the display is dimmed in proportion to each")
	fmt.Println("  further scroll. Brightness comes back once scrolling stops for the penalty")
	fmt.Println("  timeout.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file; watched and hot-reloaded for throttle settings")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Printf("        Linux input event device; repeat for several (default %q)\n", defaultInputDevice)
	fmt.Println()
	fmt.Println("  -display-backend string")
	fmt.Println("        Brightness backend: sysfs|brightnessctl|none (default \"sysfs\")")
	fmt.Println()
	fmt.Println("  -display-device string")
	fmt.Println("        Backlight device name (default: first under /sys/class/backlight)")
	fmt.Println()
	fmt.Println("  -penalty-timeout float")
	fmt.Printf("        Seconds a penalty lasts after the last triggering scroll (default %d)\n", defaultPenaltyTimeoutSec)
	fmt.Println()
	fmt.Println("  -restore-timeout float")
	fmt.Printf("        Seconds of scroll silence that start a new session (default %d)\n", defaultRestoreTimeoutSec)
	fmt.Println()
	fmt.Println("  -scroll-threshold int")
	fmt.Printf("        Session scroll total that counts as skimming (default %d)\n", defaultScrollThreshold)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -state-ws")
	fmt.Println("        Serve the live state WebSocket feed, plus GET /state and GET /health")
	fmt.Println()
	fmt.Println("  -state-ws-listen string")
	fmt.Printf("        State WebSocket listen address (default %q)\n", defaultStateWSListen)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-format string")
	fmt.Println("        Log format: text, json (default \"text\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Defaults")
	fmt.Println("  brainthrottle")
	fmt.Println()
	fmt.Println("  # Two mice, stricter threshold")
	fmt.Println("  brainthrottle -input-device /dev/input/event3 -input-device /dev/input/event7 -scroll-threshold 600")
	fmt.Println()
	fmt.Println("  # Config file plus the live state feed")
	fmt.Println("  brainthrottle -config ~/.config/brainthrottle/config.yaml -state-ws")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (add user to the 'input' group)")
	fmt.Println("  - The sysfs backend needs write access to the backlight brightness file")
	fmt.Println("  - Ctrl+C restores the original brightness before exiting")
	fmt.Println()
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		inputDevices stringList

		configPath      = flag.String("config", "", "YAML config file")
		displayBackend  = flag.String("display-backend", displayBackendSysfs, "Brightness backend: sysfs|brightnessctl|none")
		displayDevice   = flag.String("display-device", "", "Backlight device name")
		penaltyTimeout  = flag.Float64("penalty-timeout", defaultPenaltyTimeoutSec, "Seconds a penalty lasts after the last triggering scroll")
		restoreTimeout  = flag.Float64("restore-timeout", defaultRestoreTimeoutSec, "Seconds of scroll silence that start a new session")
		scrollThreshold = flag.Int64("scroll-threshold", defaultScrollThreshold, "Session scroll total that counts as skimming")
		ipcSocketPath   = flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		stateWS         = flag.Bool("state-ws", false, "Serve the live state WebSocket feed")
		stateWSListen   = flag.String("state-ws-listen", defaultStateWSListen, "State WebSocket listen address")
		logLevelStr     = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		logFormat       = flag.String("log-format", "text", "Log format: text, json")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)
	flag.Var(&inputDevices, "input-device", "Linux input event device (repeatable)")

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVersion {
		printVersion()
		return 0
	}

	// Defaults, then file, then explicitly-set flags.
	cfg := DefaultConfig()
	if *configPath != "" {
		fileCfg, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		cfg = fileCfg
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var o FlagOverrides
	o.InputDevices = inputDevices
	if set["display-backend"] {
		o.DisplayBackend = displayBackend
	}
	if set["display-device"] {
		o.DisplayDevice = displayDevice
	}
	if set["penalty-timeout"] {
		o.PenaltyTimeoutSec = penaltyTimeout
	}
	if set["restore-timeout"] {
		o.RestoreTimeoutSec = restoreTimeout
	}
	if set["scroll-threshold"] {
		o.ScrollThreshold = scrollThreshold
	}
	if set["ipc-socket"] {
		o.IPCSocketPath = ipcSocketPath
	}
	if set["state-ws"] {
		o.StateWSEnabled = stateWS
	}
	if set["state-ws-listen"] {
		o.StateWSListen = stateWSListen
	}
	if set["log-level"] {
		o.LogLevel = logLevelStr
	}
	if set["log-format"] {
		o.LogFormat = logFormat
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level) // checked by Validate
	logger := setupLogger(os.Stdout, logLevel, cfg.Logging.Format)

	display, err := newBrightnessActuator(cfg.Display)
	if err != nil {
		logger.Warn("display brightness unavailable; skimming will be logged but not penalized",
			"backend", cfg.Display.Backend, "error", err)
		display = unavailableDisplay{}
	}

	files, err := openInputDevices(cfg.Input.Devices)
	if err != nil {
		logger.Error("failed to open input device", "error", err, "tip", "add user to the 'input' group")
		return 1
	}
	defer closeInputDevices(files)

	throttle := cfg.ToThrottleConfig()
	logger.Debug("configuration",
		"input_devices", cfg.Input.Devices,
		"display_backend", cfg.Display.Backend,
		"display", fmt.Sprint(display),
		"penalty_timeout", throttle.PenaltyTimeout,
		"restore_timeout", throttle.RestoreTimeout,
		"scroll_threshold", throttle.ScrollThreshold,
		"reset_session_on_restore", throttle.ResetSessionOnRestore,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Central event bus.
	events := make(chan Event, defaultEventQueueSize)

	// SIGINT/SIGTERM become an Interrupt so the reducer restores first.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case sig := <-sigc:
			logger.Info("shutting down", "signal", sig.String())
			select {
			case events <- Interrupt{Signal: sig.String()}:
			case <-gctx.Done():
			}
		case <-gctx.Done():
		}
	}()

	timer := newCountdown(events, gctx.Done())
	defer timer.Close()

	var broadcasts chan StateBroadcast
	if cfg.StateWS.Enabled {
		broadcasts = make(chan StateBroadcast, 128)
	}

	g.Go(func() error {
		// The daemon owns shutdown: when it returns everything else stops.
		defer cancel()
		runDaemon(gctx, events, daemonDeps{
			Display:    display,
			Countdown:  timer,
			Broadcasts: broadcasts,
		}, throttle, &DaemonState{}, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	raw := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputDevices(files, raw, readErr, gctx.Done())
	g.Go(func() error {
		return runInputForwarder(gctx, raw, readErr, events, logger)
	})

	if *configPath != "" {
		g.Go(func() error {
			return watchConfigFile(gctx, *configPath, o, events, logger)
		})
	}

	if cfg.StateWS.Enabled {
		srv := NewServer(logger, events, ServerConfig{})
		router := srv.Router(cfg.StateWS.Path)

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.StateWS.Listen, router, logger)
		})
	}

	listenInfo := []any{"input", cfg.Input.Devices, "ipc", cfg.IPC.SocketPath, "display", fmt.Sprint(display)}
	if cfg.StateWS.Enabled {
		listenInfo = append(listenInfo, "state_ws", "ws://"+cfg.StateWS.Listen+cfg.StateWS.Path)
	}
	logger.Info("listening", listenInfo...)

	if err := g.Wait(); err != nil {
		logger.Error("brainthrottle stopped", slog.Any("error", err))
		return 1
	}
	return 0
}
