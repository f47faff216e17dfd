package remote

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/hiremote/internal/ble"
)

// write is one control write seen by fakeTransport.
type write struct {
	op       string
	handle   ble.Handle
	instance int
	value    int
}

// fakeTransport records every request and never emits events on its own;
// tests feed events back by hand.
type fakeTransport struct {
	mu sync.Mutex

	next        ble.Handle
	scans       []ble.ScanParams
	stops       int
	connects    []string
	disconnects []ble.Handle
	discovers   []ble.Handle
	writes      []write

	scanErr     error
	connectErr  error
	discoverErr error
	writeErr    error
}

func (f *fakeTransport) StartScan(p ble.ScanParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return f.scanErr
	}
	f.scans = append(f.scans, p)
	return nil
}

func (f *fakeTransport) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTransport) Connect(address string) (ble.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return 0, f.connectErr
	}
	f.next++
	f.connects = append(f.connects, address)
	return f.next, nil
}

func (f *fakeTransport) Disconnect(h ble.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, h)
	return nil
}

func (f *fakeTransport) DiscoverControls(h ble.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discoverErr != nil {
		return f.discoverErr
	}
	f.discovers = append(f.discovers, h)
	return nil
}

func (f *fakeTransport) record(w write) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, w)
	return nil
}

func (f *fakeTransport) WriteVolume(h ble.Handle, volume uint8) error {
	return f.record(write{op: "volume", handle: h, value: int(volume)})
}

func (f *fakeTransport) WriteVolumeMute(h ble.Handle, mute bool) error {
	return f.record(write{op: "volume-mute", handle: h, value: boolInt(mute)})
}

func (f *fakeTransport) WriteOffset(h ble.Handle, instance int, offset int16) error {
	return f.record(write{op: "offset", handle: h, instance: instance, value: int(offset)})
}

func (f *fakeTransport) WriteGain(h ble.Handle, instance int, gain int8) error {
	return f.record(write{op: "gain", handle: h, instance: instance, value: int(gain)})
}

func (f *fakeTransport) WriteGainMute(h ble.Handle, instance int, mute bool) error {
	return f.record(write{op: "gain-mute", handle: h, instance: instance, value: boolInt(mute)})
}

// Writes returns a copy of the recorded control writes.
func (f *fakeTransport) Writes() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]write(nil), f.writes...)
}

// manualClock hands out timers that only fire when the test says so.
type manualClock struct {
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// Fire runs timer i even if it was stopped, which is what a timer that
// already expired looks like to its owner.
func (c *manualClock) Fire(t *testing.T, i int) {
	t.Helper()
	if i >= len(c.timers) {
		t.Fatalf("timer %d not armed (have %d)", i, len(c.timers))
	}
	c.timers[i].f()
}

// recordingDisplay keeps everything pushed to it.
type recordingDisplay struct {
	mu sync.Mutex

	messages          []string
	sliders           map[ControlID]int
	mutes             map[ControlID]bool
	layouts           []Layout
	connectedViews    int
	disconnectedViews int
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{
		sliders: make(map[ControlID]int),
		mutes:   make(map[ControlID]bool),
	}
}

func (d *recordingDisplay) ShowMessage(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, text)
}

func (d *recordingDisplay) SetSliderValue(id ControlID, value int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sliders[id] = value
}

func (d *recordingDisplay) SetMuteIcon(id ControlID, muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mutes[id] = muted
}

func (d *recordingDisplay) BuildControls(l Layout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layouts = append(d.layouts, l)
}

func (d *recordingDisplay) RebuildConnectedView() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectedViews++
}

func (d *recordingDisplay) RebuildDisconnectedView() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectedViews++
}

func (d *recordingDisplay) lastMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return ""
	}
	return d.messages[len(d.messages)-1]
}

func (d *recordingDisplay) saw(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.messages {
		if m == text {
			return true
		}
	}
	return false
}

// rig is an orchestrator wired to fakes.
type rig struct {
	o       *Orchestrator
	tr      *fakeTransport
	display *recordingDisplay
	clock   *manualClock
}

func testTargets(n int) []Target {
	targets := make([]Target, n)
	for i := range targets {
		targets[i] = Target{Name: fmt.Sprintf("HA-%d", i), Slot: SlotID(i)}
	}
	return targets
}

func testAddress(i int) string {
	return fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i)
}

func newRig(t *testing.T, n int, p Pairing) *rig {
	t.Helper()
	tr := &fakeTransport{}
	d := newRecordingDisplay()
	o, err := NewOrchestrator(tr, d, testTargets(n), Options{Pairing: p, ScanTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	clock := &manualClock{}
	o.scan.afterFunc = clock.AfterFunc
	return &rig{o: o, tr: tr, display: d, clock: clock}
}

// drain handles every queued item, as Run would.
func (r *rig) drain() {
	for {
		select {
		case item := <-r.o.inbox:
			r.o.dispatch(item)
		default:
			return
		}
	}
}

// handle is the connection handle fakeTransport gives slot i when slots are
// connected in index order.
func handle(i int) ble.Handle {
	return ble.Handle(i + 1)
}

// connect scans for and connects every slot.
func (r *rig) connect(t *testing.T) {
	t.Helper()
	r.o.HandleCommand(ScanCmd{})
	for i, s := range r.o.registry.Slots() {
		r.o.HandleEvent(ble.Advertisement{Address: testAddress(i), Name: s.Name})
	}
	if !r.o.state.AllDetected {
		t.Fatal("not all targets detected after advertising each")
	}
	r.o.HandleCommand(ConnectCmd{})
	for i := range r.o.registry.Slots() {
		r.o.HandleEvent(ble.Connected{Handle: handle(i)})
	}
	if !r.o.registry.AllConnected() {
		t.Fatal("not all slots connected")
	}
}

// topo is the control layout one slot reports at discovery.
type topo struct {
	offsets, gains int
	volume         bool
}

// ready connects every slot and discovers the given layouts, one per slot.
func (r *rig) ready(t *testing.T, layouts ...topo) {
	t.Helper()
	r.connect(t)
	r.o.HandleCommand(DiscoverCmd{})
	for i, l := range layouts {
		r.o.HandleEvent(ble.DiscoverComplete{Handle: handle(i), Offsets: l.offsets, Gains: l.gains, Volume: l.volume})
	}
	if !r.o.registry.AllDiscovered() {
		t.Fatal("not all slots discovered")
	}
}

func (r *rig) slot(t *testing.T, id SlotID) *Slot {
	t.Helper()
	s, err := r.o.registry.Get(id)
	if err != nil {
		t.Fatalf("Get(%d) error = %v", id, err)
	}
	return s
}
