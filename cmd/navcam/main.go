package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"navcam"
	"navcam/device"
	"navcam/hub"
	"navcam/proxy"
	"navcam/rooms"
)

func printVersion() {
	fmt.Printf("navcam v%s\n", version)
	fmt.Println("6-DOF camera navigation daemon for 3Dconnexion SpaceNavigator devices")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  navcam [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads a SpaceNavigator (local evdev nodes or a remote sample proxy),")
	fmt.Println("  drives a camera pose and field of view each frame, and publishes pose,")
	fmt.Println("  button, bulb and device changes over a state WebSocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (optional; flags override file values)")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Printf("        Comma-separated evdev nodes, one per controller (default %q)\n", defaultDevicePath)
	fmt.Println()
	fmt.Println("  -controller-id int")
	fmt.Println("        Controller index the camera follows, 0-3 (default 0)")
	fmt.Println()
	fmt.Println("  -wheel-device string")
	fmt.Println("        Optional pointer evdev node whose wheel drives the field of view")
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Printf("        Frame loop frequency in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -proxy-ws-url string")
	fmt.Println("        Read samples from a remote navcam instead of local devices")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -state-addr string")
	fmt.Printf("        State HTTP listen address; empty disables it (default %q)\n", defaultStateAddr)
	fmt.Println()
	fmt.Println("  -publish-samples")
	fmt.Println("        Serve raw device samples for remote proxies")
	fmt.Println()
	fmt.Println("  -rooms string")
	fmt.Println("        Room JSON file listing interactive meshes")
	fmt.Println()
	fmt.Println("  -invert-pitch, -invert-scroll")
	fmt.Println("        Invert pitch look / scroll zoom direction")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with the default device node")
	fmt.Println("  navcam")
	fmt.Println()
	fmt.Println("  # Two controllers, follow the second one")
	fmt.Println("  navcam -device /dev/input/event5,/dev/input/event7 -controller-id 1")
	fmt.Println()
	fmt.Println("  # Follow a device attached to another host")
	fmt.Println("  navcam -proxy-ws-url ws://pi.home.arpa:3080/samples")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath     = flag.String("config", "", "YAML config file")
		devicePaths    = flag.String("device", defaultDevicePath, "Comma-separated evdev nodes, one per controller")
		controllerID   = flag.Int("controller-id", 0, "Controller index the camera follows")
		wheelDevice    = flag.String("wheel-device", "", "Pointer evdev node for scroll")
		updateHz       = flag.Int("update-hz", defaultUpdateHz, "Frame loop frequency in Hz")
		proxyWsURL     = flag.String("proxy-ws-url", "", "Remote sample proxy URL")
		ipcSocketPath  = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		stateAddr      = flag.String("state-addr", defaultStateAddr, "State HTTP listen address")
		publishSamples = flag.Bool("publish-samples", false, "Serve raw device samples")
		roomsFile      = flag.String("rooms", "", "Room JSON file")
		invertPitch    = flag.Bool("invert-pitch", false, "Invert pitch look")
		invertScroll   = flag.Bool("invert-scroll", false, "Invert scroll zoom")
		logLevelStr    = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_              = flag.Bool("version", false, "Print version and exit")
		_              = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Only explicitly set flags override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			o.DevicePaths = devicePaths
		case "controller-id":
			o.ControllerID = controllerID
		case "wheel-device":
			o.WheelDevice = wheelDevice
		case "update-hz":
			o.UpdateHz = updateHz
		case "proxy-ws-url":
			o.ProxyWsURL = proxyWsURL
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "state-addr":
			o.StateListenAddr = stateAddr
		case "publish-samples":
			o.StatePublishSamples = publishSamples
		case "rooms":
			o.RoomsFile = roomsFile
		case "invert-pitch":
			o.InvertPitch = invertPitch
		case "invert-scroll":
			o.InvertScroll = invertScroll
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("navcam stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// run wires every component and blocks until ctx is canceled or one of
// them fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	room := rooms.Room{}
	if cfg.Rooms.File != "" {
		var err error
		room, err = rooms.LoadRoomFile(ExpandPath(cfg.Rooms.File))
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	// Sample source: remote proxy or local evdev nodes.
	var source navcam.SampleSource
	var poller *device.Poller
	if cfg.Proxy.Enabled {
		client, err := proxy.NewClient(cfg.Proxy.WsURL, cfg.ProxyRetry(), logger)
		if err != nil {
			return err
		}
		source = client
		g.Go(func() error { return client.Run(ctx) })
	} else {
		poller = device.New(cfg.ToDeviceConfig(), logger)
		source = poller
		g.Go(func() error { return poller.Run(ctx) })
	}

	events := make(chan Event, 64)

	// Nothing consumes broadcasts without a state server.
	var broadcasts chan StateBroadcast
	if cfg.State.ListenAddr != "" {
		broadcasts = make(chan StateBroadcast, 256)
	}

	controls := navcam.New(cfg.ToControlsConfig(), source, navcam.WithLogger(logger))
	d := newDaemon(controls, room, broadcasts, logger)

	// Wheel notches reach the controls through the daemon loop.
	if poller != nil && cfg.Device.WheelDevice != "" {
		poller.OnWheel(func(wheelDelta float64) {
			select {
			case events <- ScrollInput{Delta: wheelDelta, Unit: ScrollUnitWheel}:
			default:
				logger.Debug("event queue full, dropping wheel delta")
			}
		})
	}

	g.Go(func() error {
		d.run(ctx, events, cfg.Frame.UpdateHz)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(ctx, ExpandPath(cfg.IPC.SocketPath), events, logger)
	})

	if cfg.State.ListenAddr != "" {
		stateHub := hub.New(logger, hub.Config{})
		server := newStateServer(stateHub, events, logger)

		mux := http.NewServeMux()
		mux.HandleFunc(cfg.State.WsPath, server.Handler())

		if cfg.State.PublishSamples {
			pub := proxy.NewPublisher(source, proxy.PublisherConfig{}, logger)
			mux.HandleFunc(cfg.State.SamplesPath, pub.Handler())
			g.Go(func() error { return pub.Run(ctx) })
		}

		g.Go(func() error {
			stateHub.Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, stateHub, broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return serveHTTP(ctx, cfg.State.ListenAddr, mux, logger)
		})
	}

	listenInfo := []any{
		"ipc", cfg.IPC.SocketPath,
		"update_rate_hz", cfg.Frame.UpdateHz,
		"controller_id", cfg.Device.ControllerID,
	}
	if cfg.Proxy.Enabled {
		listenInfo = append(listenInfo, "proxy", cfg.Proxy.WsURL)
	} else {
		listenInfo = append(listenInfo, "devices", cfg.Device.Paths)
	}
	if cfg.State.ListenAddr != "" {
		listenInfo = append(listenInfo, "state_ws", "http://"+cfg.State.ListenAddr+cfg.State.WsPath)
	}
	logger.Debug("starting navcam", "version", version)
	logger.Info("listening", listenInfo...)

	return g.Wait()
}

// serveHTTP runs srv until ctx is canceled, then shuts it down gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("state http listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("state http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("state http shutdown", "error", err)
		}
		return nil
	}
}
