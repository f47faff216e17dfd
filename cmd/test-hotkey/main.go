// Command test-hotkey is a manual test for the global hotkey bindings.
// Run it, then press any configured combo to see the command it issues.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/hiremote/internal/config"
	"github.com/chaz8081/hiremote/internal/hotkey"
)

func main() {
	configPath := flag.String("config", "", "config file to read bindings from (default: built-in bindings)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	bindings := hotkey.FromConfig(cfg.Hotkeys, 0)
	fmt.Println("Listening for:")
	for _, b := range bindings {
		fmt.Printf("  %-20s %T\n", b, b.Command)
	}
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(bindings)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read commands
	go func() {
		for cmd := range listener.Commands() {
			fmt.Printf(">>> %#v\n", cmd)
		}
		fmt.Println("Command channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
