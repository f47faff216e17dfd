// Package display renders the remote's UI: a plain-text console and a
// websocket hub for browser panels.
package display

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/chaz8081/hiremote/internal/remote"
)

// Console writes every display update as one line of text.
type Console struct {
	w  io.Writer
	mu sync.Mutex
}

// NewConsole creates a console display writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) ShowMessage(text string) {
	slog.Debug("[UI] message", "text", text)
	c.printf("%s", strings.ReplaceAll(text, "\n", " "))
}

func (c *Console) SetSliderValue(id remote.ControlID, value int) {
	c.printf("  %s = %d", id, value)
}

func (c *Console) SetMuteIcon(id remote.ControlID, muted bool) {
	state := "unmuted"
	if muted {
		state = "muted"
	}
	c.printf("  %s %s", id, state)
}

func (c *Console) BuildControls(l remote.Layout) {
	var parts []string
	if l.Volume {
		parts = append(parts, "volume")
	}
	if l.Offsets > 0 {
		parts = append(parts, fmt.Sprintf("%d offset", l.Offsets))
	}
	if l.Gains > 0 {
		parts = append(parts, fmt.Sprintf("%d gain", l.Gains))
	}
	if len(parts) == 0 {
		parts = append(parts, "no controls")
	}
	c.printf("controls for %s (slot %d): %s", l.Label, l.Slot, strings.Join(parts, ", "))
}

func (c *Console) RebuildConnectedView() {
	c.printf("== connected ==")
}

func (c *Console) RebuildDisconnectedView() {
	c.printf("== disconnected ==")
}

// Tee fans every display call out to each of its members.
type Tee []remote.Display

func (t Tee) ShowMessage(text string) {
	for _, d := range t {
		d.ShowMessage(text)
	}
}

func (t Tee) SetSliderValue(id remote.ControlID, value int) {
	for _, d := range t {
		d.SetSliderValue(id, value)
	}
}

func (t Tee) SetMuteIcon(id remote.ControlID, muted bool) {
	for _, d := range t {
		d.SetMuteIcon(id, muted)
	}
}

func (t Tee) BuildControls(l remote.Layout) {
	for _, d := range t {
		d.BuildControls(l)
	}
}

func (t Tee) RebuildConnectedView() {
	for _, d := range t {
		d.RebuildConnectedView()
	}
}

func (t Tee) RebuildDisconnectedView() {
	for _, d := range t {
		d.RebuildDisconnectedView()
	}
}
