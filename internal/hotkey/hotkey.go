// Package hotkey provides global hotkeys for the remote's buttons using
// gohook. Each key combo is bound to one remote command.
package hotkey

import (
	"log/slog"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/hiremote/internal/config"
	"github.com/chaz8081/hiremote/internal/remote"
)

// Binding maps a key combo to the command it issues.
type Binding struct {
	Keys    []string
	Command remote.Command
}

func (b Binding) String() string {
	return strings.Join(b.Keys, "+")
}

// FromConfig builds the bindings for the configured key combos. Volume and
// mute keys act on the control surface at slot surface.
func FromConfig(h config.HotkeyConfig, surface remote.SlotID) []Binding {
	return []Binding{
		{Keys: h.Scan, Command: remote.ScanCmd{}},
		{Keys: h.Connect, Command: remote.ConnectCmd{}},
		{Keys: h.Discover, Command: remote.DiscoverCmd{}},
		{Keys: h.Disconnect, Command: remote.DisconnectCmd{}},
		{Keys: h.VolumeUp, Command: remote.StepVolumeCmd{Slot: surface, Delta: h.VolumeStep}},
		{Keys: h.VolumeDown, Command: remote.StepVolumeCmd{Slot: surface, Delta: -h.VolumeStep}},
		{Keys: h.Mute, Command: remote.ToggleVolumeMuteCmd{Slot: surface}},
	}
}

// Listener manages the global hotkeys and emits the bound commands.
type Listener struct {
	bindings []Binding
	ch       chan remote.Command
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener for the given bindings. Bindings without
// keys are skipped.
func NewListener(bindings []Binding) *Listener {
	return &Listener{
		bindings: bindings,
		ch:       make(chan remote.Command, 16),
		done:     make(chan struct{}),
	}
}

// Commands returns the channel that receives commands.
// The channel is closed when the listener stops.
func (l *Listener) Commands() <-chan remote.Command {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		if len(b.Keys) == 0 {
			continue
		}
		cmd := b.Command
		hook.Register(hook.KeyDown, b.Keys, func(e hook.Event) {
			l.emit(cmd)
		})
		slog.Debug("[KEYS] bound", "keys", b.String(), "command", cmd)
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit sends cmd without blocking; a full channel drops the press.
func (l *Listener) emit(cmd remote.Command) {
	select {
	case l.ch <- cmd:
	default:
		slog.Warn("[KEYS] command dropped, queue full", "command", cmd)
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
