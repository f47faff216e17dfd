package display

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/hiremote/internal/remote"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.RebuildConnectedView()
	c.ShowMessage("Scan timeout!\nSome devices not found!")
	c.BuildControls(remote.Layout{Slot: 0, Label: "stereo", Volume: true, Offsets: 1, Gains: 2})
	c.SetSliderValue(remote.ControlID{Slot: 0, Kind: remote.KindOffset, Instance: 0}, -30)
	c.SetMuteIcon(remote.ControlID{Slot: 0, Kind: remote.KindVolume}, true)

	want := []string{
		"== connected ==",
		"Scan timeout! Some devices not found!",
		"controls for stereo (slot 0): volume, 1 offset, 2 gain",
		"  VOCS-0@0 = -30",
		"  VCS@0 muted",
	}
	got := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("console output:\n%s", buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	tee := Tee{NewConsole(&a), NewConsole(&b)}
	tee.ShowMessage("Connected.")
	tee.RebuildDisconnectedView()
	if a.String() != b.String() || a.String() != "Connected.\n== disconnected ==\n" {
		t.Errorf("outputs differ or are wrong: %q / %q", a.String(), b.String())
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want remote.Command
	}{
		{`{"action":"scan"}`, remote.ScanCmd{}},
		{`{"action":"connect"}`, remote.ConnectCmd{}},
		{`{"action":"discover"}`, remote.DiscoverCmd{}},
		{`{"action":"disconnect"}`, remote.DisconnectCmd{}},
		{`{"action":"set_volume","slot":1,"value":120}`, remote.SetVolumeCmd{Slot: 1, Value: 120}},
		{`{"action":"step_volume","value":-8}`, remote.StepVolumeCmd{Delta: -8}},
		{`{"action":"toggle_volume_mute","slot":1}`, remote.ToggleVolumeMuteCmd{Slot: 1}},
		{`{"action":"set_offset","instance":1,"value":-40}`, remote.SetOffsetCmd{Instance: 1, Value: -40}},
		{`{"action":"set_gain","value":-20}`, remote.SetGainCmd{Value: -20}},
		{`{"action":"set_gain_mute","mute":true}`, remote.SetGainMuteCmd{Mute: true}},
		{`{"action":"toggle_gain_mute","instance":2}`, remote.ToggleGainMuteCmd{Instance: 2}},
	}
	for _, tt := range tests {
		got, err := decodeCommand([]byte(tt.in))
		if err != nil {
			t.Errorf("decodeCommand(%s) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("decodeCommand(%s) = %#v, want %#v", tt.in, got, tt.want)
		}
	}

	if _, err := decodeCommand([]byte(`{"action":"reboot"}`)); !errors.Is(err, errUnknownAction) {
		t.Errorf("unknown action error = %v", err)
	}
	if _, err := decodeCommand([]byte(`not json`)); err == nil {
		t.Error("decodeCommand() accepted malformed input")
	}
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return ev
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendsSnapshotAndBroadcasts(t *testing.T) {
	snap := remote.Snapshot{
		State: remote.State{AllDetected: true},
		Slots: []remote.Slot{{ID: 0, Name: "HI Right", State: remote.Connected}},
	}
	h := NewHub(nil, func() remote.Snapshot { return snap })
	conn := dialHub(t, h)

	ev := readEvent(t, conn)
	if ev["type"] != "snapshot" {
		t.Fatalf("first frame type = %v, want snapshot", ev["type"])
	}
	payload := ev["payload"].(map[string]any)
	if payload["all_detected"] != true {
		t.Errorf("snapshot payload = %v", payload)
	}
	slots := payload["slots"].([]any)
	if len(slots) != 1 || slots[0].(map[string]any)["state"] != "connected" {
		t.Errorf("snapshot slots = %v", slots)
	}

	waitClients(t, h, 1)
	h.SetSliderValue(remote.ControlID{Slot: 0, Kind: remote.KindGain, Instance: 1}, 0)
	ev = readEvent(t, conn)
	if ev["type"] != "slider" {
		t.Fatalf("frame type = %v, want slider", ev["type"])
	}
	payload = ev["payload"].(map[string]any)
	if payload["control"] != "AICS-1@0" || payload["value"] != float64(0) {
		t.Errorf("slider payload = %v", payload)
	}
	if _, ok := payload["muted"]; ok {
		t.Error("slider frame carries a mute field")
	}

	h.ShowMessage("All devices found.")
	ev = readEvent(t, conn)
	data, _ := json.Marshal(ev["payload"])
	if ev["type"] != "message" || string(data) != `{"text":"All devices found."}` {
		t.Errorf("message frame = %v", ev)
	}
}

func TestHubSubmitsClientCommands(t *testing.T) {
	got := make(chan remote.Command, 1)
	h := NewHub(func(c remote.Command) { got <- c }, nil)
	conn := dialHub(t, h)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"bogus"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if ev := readEvent(t, conn); ev["type"] != "error" {
		t.Errorf("reply to bad action = %v, want error frame", ev)
	}

	if err := conn.WriteJSON(map[string]any{"action": "set_offset", "slot": 0, "instance": 0, "value": 100}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	select {
	case cmd := <-got:
		want := remote.SetOffsetCmd{Slot: 0, Instance: 0, Value: 100}
		if cmd != want {
			t.Errorf("submitted %#v, want %#v", cmd, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not submitted")
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	h := NewHub(nil, nil)
	conn := dialHub(t, h)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)
	h.RebuildConnectedView()
}

// serverConn returns the server side of a fresh websocket connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	select {
	case conn := <-conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no server connection")
	}
	return nil
}

func TestBroadcastDropsClientThatFallsBehind(t *testing.T) {
	h := NewHub(nil, nil)
	// No writer runs, so the one-frame queue fills up.
	stalled := &client{conn: serverConn(t), send: make(chan Event, 1), done: make(chan struct{})}
	h.addClient(stalled)

	start := time.Now()
	h.ShowMessage("Scanning started.")
	if h.Clients() != 1 {
		t.Fatal("client dropped while its queue had room")
	}
	h.ShowMessage("Device 0 connected.")
	if elapsed := time.Since(start); elapsed > writeTimeout {
		t.Errorf("broadcast took %v with a stalled client", elapsed)
	}
	if h.Clients() != 0 {
		t.Error("stalled client kept after its queue filled")
	}
	select {
	case <-stalled.done:
	default:
		t.Error("stalled client not closed")
	}
}
