package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/hiremote/internal/ble"
	"github.com/chaz8081/hiremote/internal/config"
	"github.com/chaz8081/hiremote/internal/display"
	"github.com/chaz8081/hiremote/internal/hotkey"
	"github.com/chaz8081/hiremote/internal/remote"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/hiremote/config.yaml)")
	initConfig := flag.Bool("init", false, "write a default config file and exit")
	scanOnStart := flag.Bool("scan", false, "start scanning and connecting immediately")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	// The transport, panel and hotkeys all feed the orchestrator, which
	// needs the transport and displays to be built first.
	var orch *remote.Orchestrator

	var displays display.Tee
	if cfg.Display.Console {
		displays = append(displays, display.NewConsole(os.Stdout))
	}
	var hub *display.Hub
	if cfg.Display.Listen != "" {
		hub = display.NewHub(
			func(c remote.Command) { orch.Submit(c) },
			func() remote.Snapshot { return orch.Snapshot() },
		)
		displays = append(displays, hub)
	}

	// Initialize Bluetooth
	transport := ble.NewTinyGoTransport(func(ev ble.Event) { orch.Post(ev) })
	if err := transport.Enable(); err != nil {
		log.Fatalf("Failed to enable Bluetooth: %v\n\nEnsure Bluetooth is powered on and this process may use it.", err)
	}
	log.Println("Bluetooth adapter ready")

	orch, err = remote.NewOrchestrator(transport, displays, cfg.RemoteTargets(), remote.Options{
		Match:       cfg.MatchMode(),
		Pairing:     cfg.RemotePairing(),
		ScanTimeout: cfg.ScanTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to set up remote: %v", err)
	}

	// Websocket panel
	var srv *http.Server
	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv = &http.Server{
			Addr:              cfg.Display.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("ERROR: panel server: %v", err)
			}
		}()
		log.Printf("Panel listening on ws://%s/ws", cfg.Display.Listen)
	}

	// Hotkeys
	var listener *hotkey.Listener
	if cfg.Hotkeys.Enabled {
		surface := remote.SlotID(0)
		if p := cfg.RemotePairing(); p.Stereo() {
			surface = p.Right
		}
		listener = hotkey.NewListener(hotkey.FromConfig(cfg.Hotkeys, surface))
		go listener.Start()
		go func() {
			for cmd := range listener.Commands() {
				orch.Submit(cmd)
			}
		}()
		log.Println("Hotkey listener ready")
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *scanOnStart {
		orch.Submit(remote.ConnectCmd{})
	}

	log.Println("Ready! Ctrl+C to quit.")
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ERROR: %v", err)
	}

	log.Println("Shutting down...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: panel shutdown: %v", err)
		}
		cancel()
	}
	if listener != nil {
		listener.Stop()
	}
	log.Println("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -init to write one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	names := make([]string, len(cfg.Targets))
	for i, t := range cfg.Targets {
		names[i] = fmt.Sprintf("%d=%q", i, t.Name)
	}
	panel := cfg.Display.Listen
	if panel == "" {
		panel = "off"
	}
	fmt.Println("=== hiremote ===")
	fmt.Printf("  Targets: %s\n", strings.Join(names, ", "))
	fmt.Printf("  Match:   %s\n", cfg.Match)
	fmt.Printf("  Pairing: %s\n", cfg.Pairing)
	fmt.Printf("  Scan:    %s timeout\n", cfg.ScanTimeout())
	fmt.Printf("  Panel:   %s\n", panel)
	fmt.Printf("  Hotkeys: %t\n", cfg.Hotkeys.Enabled)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("================")
}
