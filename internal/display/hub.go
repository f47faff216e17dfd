package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/hiremote/internal/remote"
)

const (
	writeTimeout  = 100 * time.Millisecond
	sendQueueSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one frame sent to panel clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type controlPayload struct {
	Control  string `json:"control"`
	Slot     int    `json:"slot"`
	Kind     string `json:"kind"`
	Instance int    `json:"instance"`
	Value    *int   `json:"value,omitempty"`
	Muted    *bool  `json:"muted,omitempty"`
}

func newControlPayload(id remote.ControlID) controlPayload {
	return controlPayload{
		Control:  id.String(),
		Slot:     int(id.Slot),
		Kind:     id.Kind.String(),
		Instance: id.Instance,
	}
}

type layoutPayload struct {
	Slot    int    `json:"slot"`
	Label   string `json:"label"`
	Volume  bool   `json:"volume"`
	Offsets int    `json:"offsets"`
	Gains   int    `json:"gains"`
}

type gainPayload struct {
	Value int  `json:"value"`
	Mute  bool `json:"mute"`
	Mode  int  `json:"mode"`
}

type slotPayload struct {
	Slot       int           `json:"slot"`
	Name       string        `json:"name"`
	Address    string        `json:"address,omitempty"`
	State      string        `json:"state"`
	Found      bool          `json:"found"`
	Discovered bool          `json:"discovered"`
	HasVolume  bool          `json:"has_volume"`
	Volume     int           `json:"volume"`
	VolumeMute bool          `json:"volume_mute"`
	Offsets    []int         `json:"offsets"`
	Gains      []gainPayload `json:"gains"`
}

type snapshotPayload struct {
	ConnectAll  bool          `json:"connect_all"`
	DiscoverAll bool          `json:"discover_all"`
	AllDetected bool          `json:"all_detected"`
	ScanActive  bool          `json:"scan_active"`
	Slots       []slotPayload `json:"slots"`
}

func newSnapshotPayload(s remote.Snapshot) snapshotPayload {
	p := snapshotPayload{
		ConnectAll:  s.State.ConnectAll,
		DiscoverAll: s.State.DiscoverAll,
		AllDetected: s.State.AllDetected,
		ScanActive:  s.State.ScanActive,
	}
	for _, sl := range s.Slots {
		sp := slotPayload{
			Slot:       int(sl.ID),
			Name:       sl.Name,
			Address:    sl.Address,
			State:      sl.State.String(),
			Found:      sl.Found,
			Discovered: sl.Discovered,
			HasVolume:  sl.Controls.HasVolume,
			Volume:     int(sl.Controls.Volume),
			VolumeMute: sl.Controls.VolumeMute,
			Offsets:    make([]int, 0, len(sl.Controls.Offsets)),
			Gains:      make([]gainPayload, 0, len(sl.Controls.Gains)),
		}
		for _, o := range sl.Controls.Offsets {
			sp.Offsets = append(sp.Offsets, int(o))
		}
		for _, g := range sl.Controls.Gains {
			sp.Gains = append(sp.Gains, gainPayload{Value: int(g.Value), Mute: g.Mute, Mode: int(g.Mode)})
		}
		p.Slots = append(p.Slots, sp)
	}
	return p
}

// client owns one connection. Frames are queued and written by the
// client's own goroutine, so a slow panel never holds up the caller.
type client struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan Event, sendQueueSize),
		done: make(chan struct{}),
	}
}

// queue hands ev to the writer without blocking. It reports false when the
// client is closed or too far behind.
func (c *client) queue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue until the client is closed or a write fails.
func (c *client) writeLoop(onFail func()) {
	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("[PANEL] write failed", "remote", c.conn.RemoteAddr(), "error", err)
				onFail()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub is a remote.Display that mirrors the UI to websocket panel clients and
// turns their action frames into remote commands.
type Hub struct {
	clients  map[*client]bool
	mu       sync.Mutex
	submit   func(remote.Command)
	snapshot func() remote.Snapshot
}

// NewHub creates a hub. submit receives decoded client commands; snapshot,
// if non-nil, supplies the state sent to each client when it connects.
func NewHub(submit func(remote.Command), snapshot func() remote.Snapshot) *Hub {
	return &Hub{
		clients:  make(map[*client]bool),
		submit:   submit,
		snapshot: snapshot,
	}
}

// ServeHTTP upgrades the request and serves one panel client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[PANEL] upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(conn)
	go c.writeLoop(func() { h.removeClient(c) })
	if h.snapshot != nil {
		c.queue(Event{Type: "snapshot", Payload: newSnapshotPayload(h.snapshot())})
	}
	h.addClient(c)
	defer h.removeClient(c)
	slog.Info("[PANEL] client connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("[PANEL] read ended", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		cmd, err := decodeCommand(data)
		if err != nil {
			slog.Warn("[PANEL] bad command", "remote", r.RemoteAddr, "error", err)
			if !c.queue(Event{Type: "error", Payload: err.Error()}) {
				return
			}
			continue
		}
		if h.submit != nil {
			h.submit(cmd)
		}
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.close()
}

// Clients returns the number of connected panel clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues ev for every client and drops those that cannot keep up.
// It never waits on the network.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.queue(ev) {
			slog.Debug("[PANEL] dropping client that fell behind", "remote", c.conn.RemoteAddr())
			h.removeClient(c)
		}
	}
}

func (h *Hub) ShowMessage(text string) {
	h.Broadcast(Event{Type: "message", Payload: map[string]string{"text": text}})
}

func (h *Hub) SetSliderValue(id remote.ControlID, value int) {
	p := newControlPayload(id)
	p.Value = &value
	h.Broadcast(Event{Type: "slider", Payload: p})
}

func (h *Hub) SetMuteIcon(id remote.ControlID, muted bool) {
	p := newControlPayload(id)
	p.Muted = &muted
	h.Broadcast(Event{Type: "mute", Payload: p})
}

func (h *Hub) BuildControls(l remote.Layout) {
	h.Broadcast(Event{Type: "layout", Payload: layoutPayload{
		Slot:    int(l.Slot),
		Label:   l.Label,
		Volume:  l.Volume,
		Offsets: l.Offsets,
		Gains:   l.Gains,
	}})
}

func (h *Hub) RebuildConnectedView() {
	h.Broadcast(Event{Type: "view", Payload: map[string]string{"view": "connected"}})
}

func (h *Hub) RebuildDisconnectedView() {
	h.Broadcast(Event{Type: "view", Payload: map[string]string{"view": "disconnected"}})
}

// action is an inbound client frame.
type action struct {
	Action   string `json:"action"`
	Slot     int    `json:"slot"`
	Instance int    `json:"instance"`
	Value    int    `json:"value"`
	Mute     bool   `json:"mute"`
}

var errUnknownAction = errors.New("display: unknown action")

func decodeCommand(data []byte) (remote.Command, error) {
	var a action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("display: decoding action: %w", err)
	}
	slot := remote.SlotID(a.Slot)
	switch a.Action {
	case "scan":
		return remote.ScanCmd{}, nil
	case "connect":
		return remote.ConnectCmd{}, nil
	case "discover":
		return remote.DiscoverCmd{}, nil
	case "disconnect":
		return remote.DisconnectCmd{}, nil
	case "set_volume":
		return remote.SetVolumeCmd{Slot: slot, Value: a.Value}, nil
	case "step_volume":
		return remote.StepVolumeCmd{Slot: slot, Delta: a.Value}, nil
	case "toggle_volume_mute":
		return remote.ToggleVolumeMuteCmd{Slot: slot}, nil
	case "set_offset":
		return remote.SetOffsetCmd{Slot: slot, Instance: a.Instance, Value: a.Value}, nil
	case "set_gain":
		return remote.SetGainCmd{Slot: slot, Instance: a.Instance, Value: a.Value}, nil
	case "set_gain_mute":
		return remote.SetGainMuteCmd{Slot: slot, Instance: a.Instance, Mute: a.Mute}, nil
	case "toggle_gain_mute":
		return remote.ToggleGainMuteCmd{Slot: slot, Instance: a.Instance}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownAction, a.Action)
}
