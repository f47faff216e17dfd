package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/hiremote/internal/ble"
)

// State holds the orchestrator's global flags.
type State struct {
	ConnectAll  bool
	DiscoverAll bool
	AllDetected bool
	ScanActive  bool
}

// Options configures an Orchestrator.
type Options struct {
	Match       MatchMode
	Pairing     Pairing
	ScanTimeout time.Duration
	// InboxSize bounds the queue of pending events and commands.
	InboxSize int
}

// Snapshot is a copy of the orchestrator's state, safe to read from any
// goroutine.
type Snapshot struct {
	State State
	Slots []Slot
}

type view int

const (
	viewNone view = iota
	viewDisconnected
	viewConnected
)

// scanExpired is the scan session's own timer firing.
type scanExpired struct {
	gen uint64
}

// Orchestrator sequences scanning, connecting, discovery and control for
// the configured targets and reports progress to the display.
//
// Run is the single execution context: events from the BLE stack and user
// commands are queued by Post and Submit and handled one at a time.
type Orchestrator struct {
	state    State
	pairing  Pairing
	registry *Registry
	scan     *ScanSession
	cascade  *Cascade
	controls *Controls
	sync     *Synchronizer
	display  Display
	view     view

	inbox     chan any
	done      chan struct{}
	closeOnce sync.Once
	published atomic.Pointer[Snapshot]
}

// NewOrchestrator wires the core components around transport and display.
func NewOrchestrator(t ble.Transport, d Display, targets []Target, opts Options) (*Orchestrator, error) {
	reg, err := NewRegistry(targets)
	if err != nil {
		return nil, err
	}
	if opts.Pairing.Stereo() {
		if reg.Len() != 2 {
			return nil, fmt.Errorf("remote: stereo pairing needs 2 targets, got %d", reg.Len())
		}
		if _, err := reg.Get(opts.Pairing.Right); err != nil {
			return nil, fmt.Errorf("remote: stereo right: %w", err)
		}
		if _, err := reg.Get(opts.Pairing.Left); err != nil {
			return nil, fmt.Errorf("remote: stereo left: %w", err)
		}
		if opts.Pairing.Right == opts.Pairing.Left {
			return nil, fmt.Errorf("remote: stereo right and left are both slot %d", opts.Pairing.Right)
		}
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}

	o := &Orchestrator{
		pairing:  opts.Pairing,
		registry: reg,
		display:  d,
		inbox:    make(chan any, opts.InboxSize),
		done:     make(chan struct{}),
	}
	o.scan = NewScanSession(t, reg, opts.Match, opts.ScanTimeout, func(gen uint64) {
		o.enqueue(scanExpired{gen: gen})
	})
	o.cascade = NewCascade(t, reg, &o.state)
	o.controls = NewControls(t, reg)
	o.sync = NewSynchronizer(opts.Pairing, reg, o.controls)
	o.publish()
	return o, nil
}

// Post queues a BLE event. It is safe to call from any goroutine and is
// suitable as a ble.Sink.
func (o *Orchestrator) Post(ev ble.Event) {
	o.enqueue(ev)
}

// Submit queues a user command. It is safe to call from any goroutine.
func (o *Orchestrator) Submit(cmd Command) {
	o.enqueue(cmd)
}

func (o *Orchestrator) enqueue(item any) {
	select {
	case o.inbox <- item:
	case <-o.done:
	}
}

// Run shows the disconnected view and handles queued items until ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.closeOnce.Do(func() { close(o.done) })
	o.showView(viewDisconnected)
	for {
		select {
		case <-ctx.Done():
			if err := o.scan.Stop(); err != nil {
				slog.Warn("[APP] stop scan on shutdown", "error", err)
			}
			return ctx.Err()
		case item := <-o.inbox:
			o.dispatch(item)
		}
	}
}

func (o *Orchestrator) dispatch(item any) {
	switch v := item.(type) {
	case ble.Event:
		o.HandleEvent(v)
	case Command:
		o.HandleCommand(v)
	case scanExpired:
		o.onScanTimeout(v.gen)
		o.publish()
	default:
		slog.Error("[APP] unknown inbox item", "type", fmt.Sprintf("%T", item))
	}
}

// Snapshot returns the state as of the last handled item.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.published.Load()
}

func (o *Orchestrator) publish() {
	snap := Snapshot{State: o.state}
	for _, s := range o.registry.Slots() {
		c := *s
		c.Controls = s.Controls.clone()
		snap.Slots = append(snap.Slots, c)
	}
	o.published.Store(&snap)
}

// HandleEvent processes one BLE event on the caller's goroutine.
func (o *Orchestrator) HandleEvent(ev ble.Event) {
	defer o.publish()
	switch ev := ev.(type) {
	case ble.Advertisement:
		o.onAdvertisement(ev)
	case ble.ScanTimeout:
		o.onScanTimeout(0)
	case ble.Connected:
		o.onConnected(ev)
	case ble.ConnectFailed:
		o.onConnectFailed(ev)
	case ble.Disconnected:
		o.onDisconnected(ev)
	case ble.DiscoverComplete:
		o.onDiscoverComplete(ev)
	case ble.VolumeState:
		o.onVolumeState(ev)
	case ble.OffsetState:
		o.onOffsetState(ev)
	case ble.GainState:
		o.onGainState(ev)
	case ble.WriteFailed:
		o.onWriteFailed(ev)
	default:
		slog.Warn("[APP] unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

// HandleCommand processes one user command on the caller's goroutine.
func (o *Orchestrator) HandleCommand(cmd Command) {
	defer o.publish()
	switch cmd := cmd.(type) {
	case ScanCmd:
		o.startScan()
	case ConnectCmd:
		o.connectAll()
	case DiscoverCmd:
		o.discoverAll()
	case DisconnectCmd:
		o.disconnectAll()
	case SetVolumeCmd:
		o.setVolume(cmd.Slot, cmd.Value)
	case StepVolumeCmd:
		o.stepVolume(cmd.Slot, cmd.Delta)
	case ToggleVolumeMuteCmd:
		o.toggleVolumeMute(cmd.Slot)
	case SetOffsetCmd:
		o.setOffset(cmd.Slot, cmd.Instance, cmd.Value)
	case SetGainCmd:
		o.setGain(cmd.Slot, cmd.Instance, cmd.Value)
	case SetGainMuteCmd:
		o.setGainMute(cmd.Slot, cmd.Instance, cmd.Mute)
	case ToggleGainMuteCmd:
		o.toggleGainMute(cmd.Slot, cmd.Instance)
	default:
		slog.Warn("[APP] unhandled command", "type", fmt.Sprintf("%T", cmd))
	}
}

// --- user actions ---

func (o *Orchestrator) startScan() {
	o.state.ConnectAll = false
	o.state.AllDetected = false
	if err := o.scan.Start(); err != nil {
		if errors.Is(err, ErrAlreadyInProgress) {
			o.display.ShowMessage("Scanning is already started.")
			return
		}
		slog.Error("[APP] start scan", "error", err)
		o.display.ShowMessage("Start scanning failed!")
		return
	}
	o.state.ScanActive = true
	o.display.ShowMessage("Scanning started.")
}

func (o *Orchestrator) connectAll() {
	o.state.ConnectAll = true
	o.display.ShowMessage("Connecting...")

	if !o.state.AllDetected {
		if err := o.scan.Force(); err != nil {
			o.state.ConnectAll = false
			slog.Error("[APP] start scan for connect", "error", err)
			o.display.ShowMessage("Start scanning failed!")
			return
		}
		o.state.ScanActive = true
		return
	}
	o.startConnectCascade()
}

func (o *Orchestrator) startConnectCascade() {
	slot, err := o.cascade.ConnectAll()
	if err != nil {
		o.fail(err, "connection")
		return
	}
	if slot == nil && o.registry.AllConnected() {
		o.allConnected()
	}
}

func (o *Orchestrator) discoverAll() {
	if _, err := o.cascade.DiscoverAll(); err != nil {
		o.fail(err, "VCP discover")
		return
	}
	if o.registry.AllDiscovered() {
		o.topologyReady()
		return
	}
	o.display.ShowMessage("Start discovering VCP...")
}

func (o *Orchestrator) disconnectAll() {
	err := o.cascade.DisconnectAll()
	if err == nil {
		return
	}
	var se *SlotError
	for _, e := range unjoin(err) {
		if errors.As(e, &se) {
			o.display.ShowMessage(fmt.Sprintf("Connection %d: failed to disconnect!", se.Slot))
		}
		slog.Warn("[APP] disconnect", "error", e)
	}
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func (o *Orchestrator) setVolume(id SlotID, value int) {
	if err := o.controls.SetVolume(id, value); err != nil {
		o.fail(err, "set volume")
		return
	}
	o.sync.MarkDirty(id, QVolume, 0, value)
}

func (o *Orchestrator) stepVolume(id SlotID, delta int) {
	s, err := o.registry.Get(id)
	if err != nil {
		o.fail(err, "set volume")
		return
	}
	v := int(s.Controls.Volume) + delta
	v = max(VolumeMin, min(VolumeMax, v))
	o.setVolume(id, v)
}

func (o *Orchestrator) toggleVolumeMute(id SlotID) {
	s, err := o.registry.Get(id)
	if err != nil {
		o.fail(err, "set volume mute")
		return
	}
	o.setVolumeMute(id, !s.Controls.VolumeMute)
}

func (o *Orchestrator) setVolumeMute(id SlotID, mute bool) {
	if err := o.controls.SetVolumeMute(id, mute); err != nil {
		o.fail(err, "set volume mute")
		return
	}
	o.sync.MarkDirty(id, QVolumeMute, 0, boolInt(mute))
}

func (o *Orchestrator) setOffset(id SlotID, instance, value int) {
	if err := o.controls.SetOffset(id, instance, value); err != nil {
		o.fail(err, "set offset")
		return
	}
	o.sync.MarkDirty(id, QOffset, instance, value)
}

func (o *Orchestrator) setGain(id SlotID, instance, value int) {
	if err := o.controls.SetGain(id, instance, value); err != nil {
		o.fail(err, "set gain")
		return
	}
	o.sync.MarkDirty(id, QGain, instance, value)
}

func (o *Orchestrator) setGainMute(id SlotID, instance int, mute bool) {
	if err := o.controls.SetGainMute(id, instance, mute); err != nil {
		o.fail(err, "set gain mute")
		return
	}
	o.sync.MarkDirty(id, QGainMute, instance, boolInt(mute))
}

func (o *Orchestrator) toggleGainMute(id SlotID, instance int) {
	s, err := o.registry.Get(id)
	if err != nil {
		o.fail(err, "set gain mute")
		return
	}
	if instance < 0 || instance >= len(s.Controls.Gains) {
		o.fail(slotErr(id, "toggle gain mute", ErrInvalidInstance), "set gain mute")
		return
	}
	o.setGainMute(id, instance, !s.Controls.Gains[instance].Mute)
}

// --- stack events ---

func (o *Orchestrator) onAdvertisement(adv ble.Advertisement) {
	res := o.scan.HandleAdvertisement(adv)
	if res.Found != nil {
		o.display.ShowMessage(fmt.Sprintf("Found device: %s", adv.Name))
	}
	if !res.Completed {
		return
	}
	o.state.ScanActive = false
	o.state.AllDetected = true
	slog.Info("[APP] all devices found")
	o.display.ShowMessage("All devices found.")
	if o.state.ConnectAll {
		o.display.ShowMessage("Connecting...")
		o.startConnectCascade()
	}
}

func (o *Orchestrator) onScanTimeout(gen uint64) {
	if !o.scan.HandleTimeout(gen) {
		return
	}
	o.state.ScanActive = false
	o.state.ConnectAll = false
	slog.Warn("[APP] scan timed out", "error", ErrScanTimeout)
	o.display.ShowMessage("Scan timeout!\nSome devices not found!")
}

func (o *Orchestrator) onConnected(ev ble.Connected) {
	step, err := o.cascade.HandleConnected(ev)
	if step.Slot != nil {
		o.display.ShowMessage(fmt.Sprintf("Device %d connected.", step.Slot.ID))
	}
	if err != nil {
		o.fail(err, "connection")
		return
	}
	if step.Done {
		o.allConnected()
	}
}

func (o *Orchestrator) allConnected() {
	slog.Info("[APP] all devices connected")
	o.showView(viewConnected)
	o.display.ShowMessage("Connected.")
}

func (o *Orchestrator) onConnectFailed(ev ble.ConnectFailed) {
	_, err := o.cascade.HandleConnectFailed(ev)
	o.fail(err, "connection")
}

func (o *Orchestrator) onDisconnected(ev ble.Disconnected) {
	step, err := o.cascade.HandleDisconnected(ev)
	if err != nil {
		o.fail(err, "disconnect")
		return
	}
	o.sync.Forget(step.Slot.ID)
	o.showView(viewDisconnected)
	o.display.ShowMessage(fmt.Sprintf("Device %d disconnected.", step.Slot.ID))
}

func (o *Orchestrator) onDiscoverComplete(ev ble.DiscoverComplete) {
	step, err := o.cascade.HandleDiscoverComplete(ev)
	if err != nil {
		o.fail(err, "VCP discover")
		return
	}
	if step.Done {
		o.topologyReady()
	}
}

func (o *Orchestrator) topologyReady() {
	slog.Info("[APP] VCP discovered for all devices")
	if o.pairing.Stereo() {
		right, _ := o.registry.Get(o.pairing.Right)
		left, _ := o.registry.Get(o.pairing.Left)
		o.display.BuildControls(Layout{
			Slot:    right.ID,
			Label:   "stereo",
			Volume:  right.Controls.HasVolume && left.Controls.HasVolume,
			Offsets: min(len(right.Controls.Offsets), len(left.Controls.Offsets)),
			Gains:   min(len(right.Controls.Gains), len(left.Controls.Gains)),
		})
		o.refresh(right)
	} else {
		for _, s := range o.registry.Slots() {
			o.display.BuildControls(Layout{
				Slot:    s.ID,
				Label:   s.Name,
				Volume:  s.Controls.HasVolume,
				Offsets: len(s.Controls.Offsets),
				Gains:   len(s.Controls.Gains),
			})
			o.refresh(s)
		}
	}
	o.display.ShowMessage("VCP discovered.")
}

// refresh pushes every committed value of s to the display.
func (o *Orchestrator) refresh(s *Slot) {
	if s.Controls.HasVolume {
		o.showVolume(s)
	}
	for i := range s.Controls.Offsets {
		o.showOffset(s, i)
	}
	for i := range s.Controls.Gains {
		o.showGain(s, i)
	}
}

func (o *Orchestrator) onVolumeState(ev ble.VolumeState) {
	before := o.committed(ev.Handle)
	s, err := o.controls.CommitVolume(ev)
	if err != nil {
		o.notifyFailed(err, "volume state")
		return
	}
	o.showVolume(s)
	o.observe(s, before, QVolume, 0, int(ev.Volume))
	o.observe(s, before, QVolumeMute, 0, boolInt(ev.Mute))
}

func (o *Orchestrator) onOffsetState(ev ble.OffsetState) {
	before := o.committed(ev.Handle)
	s, err := o.controls.CommitOffset(ev)
	if err != nil {
		o.notifyFailed(err, "offset state")
		return
	}
	o.showOffset(s, ev.Instance)
	o.observe(s, before, QOffset, ev.Instance, int(ev.Offset))
}

func (o *Orchestrator) onGainState(ev ble.GainState) {
	before := o.committed(ev.Handle)
	s, err := o.controls.CommitGain(ev)
	if err != nil {
		o.notifyFailed(err, "gain state")
		return
	}
	o.showGain(s, ev.Instance)
	o.observe(s, before, QGain, ev.Instance, int(ev.Gain))
	o.observe(s, before, QGainMute, ev.Instance, boolInt(ev.Mute))
}

// committed copies the record behind h before a report is committed to it.
func (o *Orchestrator) committed(h ble.Handle) Slot {
	s, ok := o.registry.ByHandle(h)
	if !ok {
		return Slot{}
	}
	c := *s
	c.Controls = s.Controls.clone()
	return c
}

func (o *Orchestrator) onWriteFailed(ev ble.WriteFailed) {
	s, ok := o.registry.ByHandle(ev.Handle)
	if !ok {
		slog.Warn("[APP] write failed on unknown handle", "handle", ev.Handle, "op", ev.Op, "error", ev.Err)
		return
	}
	if ev.Op == ble.OpDisconnect {
		if _, err := o.cascade.HandleDisconnectFailed(ev.Handle); err != nil {
			o.fail(err, ev.Op)
			return
		}
	}
	o.sync.Forget(s.ID)
	o.fail(transportErr(s.ID, ev.Op, ev.Err), ev.Op)
}

func (o *Orchestrator) observe(s *Slot, before Slot, q Quantity, instance, value int) {
	if !o.sync.Active() {
		return
	}
	old, ok := valueOf(&before, quantityKey{q, instance})
	if err := o.sync.Observe(s, q, instance, value, !ok || old != value); err != nil {
		o.fail(err, "mirror "+q.String())
	}
}

// --- display helpers ---

// surface returns the slot whose controls display s's values, and whether
// s's offsets must be negated to match that surface.
func (o *Orchestrator) surface(s *Slot) (SlotID, bool) {
	if o.pairing.Stereo() {
		return o.pairing.Right, s.ID == o.pairing.Left
	}
	return s.ID, false
}

func (o *Orchestrator) showVolume(s *Slot) {
	id, _ := o.surface(s)
	cid := ControlID{Slot: id, Kind: KindVolume}
	o.display.SetSliderValue(cid, int(s.Controls.Volume))
	o.display.SetMuteIcon(cid, s.Controls.VolumeMute)
}

func (o *Orchestrator) showOffset(s *Slot, instance int) {
	id, invert := o.surface(s)
	v := int(s.Controls.Offsets[instance])
	if invert {
		v = -v
	}
	o.display.SetSliderValue(ControlID{Slot: id, Kind: KindOffset, Instance: instance}, v)
}

func (o *Orchestrator) showGain(s *Slot, instance int) {
	id, _ := o.surface(s)
	cid := ControlID{Slot: id, Kind: KindGain, Instance: instance}
	g := s.Controls.Gains[instance]
	o.display.SetSliderValue(cid, int(g.Value))
	o.display.SetMuteIcon(cid, g.Mute)
}

func (o *Orchestrator) showView(v view) {
	if o.view == v {
		return
	}
	o.view = v
	switch v {
	case viewConnected:
		o.display.RebuildConnectedView()
	case viewDisconnected:
		o.display.RebuildDisconnectedView()
	}
}

// --- error reporting ---

// fail logs err and, for errors the user can act on, shows a message naming
// the failing slot. Index and bounds errors stay in the log.
func (o *Orchestrator) fail(err error, what string) {
	if err == nil {
		return
	}
	if !userVisible(err) {
		slog.Warn("[APP] dropped", "op", what, "error", err)
		return
	}
	slog.Error("[APP] failed", "op", what, "error", err)
	var se *SlotError
	if errors.As(err, &se) {
		o.display.ShowMessage(fmt.Sprintf("Connection %d: %s failed!", se.Slot, what))
		return
	}
	o.display.ShowMessage(fmt.Sprintf("%s failed!", what))
}

// notifyFailed handles a state notification that could not be committed.
func (o *Orchestrator) notifyFailed(err error, what string) {
	if errors.Is(err, ErrTransport) {
		o.fail(err, what)
		return
	}
	slog.Warn("[APP] ignored notification", "op", what, "error", err)
}

func userVisible(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyInProgress)
}
