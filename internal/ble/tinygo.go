package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/hiremote/internal/ble/vcp"
)

// ErrUnknownHandle is returned for requests naming a connection the
// transport does not hold.
var ErrUnknownHandle = errors.New("ble: unknown connection handle")

// requestQueueSize bounds the per-connection GATT request queue.
const requestQueueSize = 32

// TinyGoTransport implements Transport on top of tinygo-org/bluetooth.
//
// GATT operations block inside the stack, so every connection owns a worker
// goroutine that runs its requests in order; Transport methods only enqueue.
// Scan timeouts are enforced by the caller, tinygo has no scan timeout.
type TinyGoTransport struct {
	adapter *bluetooth.Adapter
	sink    Sink

	// mu protects everything below.
	mu       sync.Mutex
	next     Handle
	conns    map[Handle]*tinygoConn
	byAddr   map[string]Handle
	scanning bool
}

// NewTinyGoTransport creates a transport on the default adapter. Events are
// delivered to sink from stack goroutines.
func NewTinyGoTransport(sink Sink) *TinyGoTransport {
	return &TinyGoTransport{
		adapter: bluetooth.DefaultAdapter,
		sink:    sink,
		conns:   make(map[Handle]*tinygoConn),
		byAddr:  make(map[string]Handle),
	}
}

// Compile-time check that TinyGoTransport implements Transport.
var _ Transport = (*TinyGoTransport)(nil)

// Enable powers on the adapter and installs the link-loss handler.
func (t *TinyGoTransport) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		h, ok := t.byAddr[device.Address.String()]
		t.mu.Unlock()
		if ok {
			t.dropped(h, 0)
		}
	})
	return nil
}

func (t *TinyGoTransport) StartScan(params ScanParams) error {
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		return fmt.Errorf("ble: scan already running")
	}
	t.scanning = true
	t.mu.Unlock()

	slog.Debug("[BLE] scan start", "active", params.Active, "interval", params.Interval, "window", params.Window)

	go func() {
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" {
				return
			}
			t.sink(Advertisement{Address: result.Address.String(), Name: name})
		})
		t.mu.Lock()
		t.scanning = false
		t.mu.Unlock()
		if err != nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		}
	}()
	return nil
}

func (t *TinyGoTransport) StopScan() error {
	t.mu.Lock()
	scanning := t.scanning
	t.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := t.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

func (t *TinyGoTransport) Connect(address string) (Handle, error) {
	var addr bluetooth.Address
	addr.Set(address)

	t.mu.Lock()
	if h, ok := t.byAddr[address]; ok {
		t.mu.Unlock()
		return 0, fmt.Errorf("ble: connect to %s: already held as handle %d", address, h)
	}
	t.next++
	h := t.next
	c := newTinygoConn(h, address)
	t.conns[h] = c
	t.byAddr[address] = h
	t.mu.Unlock()

	err := c.enqueue(func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			t.forget(h)
			c.close()
			t.sink(ConnectFailed{Handle: h, Err: fmt.Errorf("ble: connect to %s: %w", address, err)})
			return
		}
		c.device = device
		t.sink(Connected{Handle: h})
	})
	if err != nil {
		t.forget(h)
		c.close()
		return 0, err
	}
	return h, nil
}

func (t *TinyGoTransport) Disconnect(h Handle) error {
	c, err := t.conn(h)
	if err != nil {
		return err
	}
	return c.enqueue(func() {
		if err := c.device.Disconnect(); err != nil {
			t.sink(WriteFailed{Handle: h, Op: OpDisconnect, Err: err})
			return
		}
		t.dropped(h, 0)
	})
}

func (t *TinyGoTransport) DiscoverControls(h Handle) error {
	c, err := t.conn(h)
	if err != nil {
		return err
	}
	return c.enqueue(func() {
		if err := c.discover(); err != nil {
			t.sink(DiscoverComplete{Handle: h, Err: err})
			return
		}
		t.sink(DiscoverComplete{
			Handle:  h,
			Offsets: len(c.offsets),
			Gains:   len(c.gains),
			Volume:  c.volume != nil,
		})
		// Initial state reads must follow DiscoverComplete or the receiver
		// has no topology to commit them to.
		if err := c.subscribe(t.sink); err != nil {
			t.sink(WriteFailed{Handle: h, Op: "subscribe", Err: err})
		}
	})
}

func (t *TinyGoTransport) WriteVolume(h Handle, volume uint8) error {
	return t.write(h, "volume", func(c *tinygoConn) (*control, []byte, error) {
		if c.volume == nil {
			return nil, nil, fmt.Errorf("ble: no volume control")
		}
		return c.volume, vcp.SetAbsoluteVolume(c.volume.count(), volume), nil
	})
}

func (t *TinyGoTransport) WriteVolumeMute(h Handle, mute bool) error {
	return t.write(h, "volume mute", func(c *tinygoConn) (*control, []byte, error) {
		if c.volume == nil {
			return nil, nil, fmt.Errorf("ble: no volume control")
		}
		return c.volume, vcp.SetVolumeMute(c.volume.count(), mute), nil
	})
}

func (t *TinyGoTransport) WriteOffset(h Handle, instance int, offset int16) error {
	return t.write(h, "offset", func(c *tinygoConn) (*control, []byte, error) {
		if instance < 0 || instance >= len(c.offsets) {
			return nil, nil, fmt.Errorf("ble: offset instance %d out of range", instance)
		}
		ctl := c.offsets[instance]
		return ctl, vcp.SetOffset(ctl.count(), offset), nil
	})
}

func (t *TinyGoTransport) WriteGain(h Handle, instance int, gain int8) error {
	return t.write(h, "gain", func(c *tinygoConn) (*control, []byte, error) {
		if instance < 0 || instance >= len(c.gains) {
			return nil, nil, fmt.Errorf("ble: gain instance %d out of range", instance)
		}
		ctl := c.gains[instance]
		return ctl, vcp.SetGain(ctl.count(), gain), nil
	})
}

func (t *TinyGoTransport) WriteGainMute(h Handle, instance int, mute bool) error {
	return t.write(h, "gain mute", func(c *tinygoConn) (*control, []byte, error) {
		if instance < 0 || instance >= len(c.gains) {
			return nil, nil, fmt.Errorf("ble: gain instance %d out of range", instance)
		}
		ctl := c.gains[instance]
		return ctl, vcp.SetInputMute(ctl.count(), mute), nil
	})
}

// write builds the control-point payload on the worker, so the change
// counter is the latest one seen before the write goes out.
func (t *TinyGoTransport) write(h Handle, op string, build func(*tinygoConn) (*control, []byte, error)) error {
	c, err := t.conn(h)
	if err != nil {
		return err
	}
	return c.enqueue(func() {
		ctl, payload, err := build(c)
		if err != nil {
			t.sink(WriteFailed{Handle: h, Op: op, Err: err})
			return
		}
		if err := writeControlPoint(ctl.point, payload); err != nil {
			t.sink(WriteFailed{Handle: h, Op: op, Err: fmt.Errorf("ble: write %s: %w", op, err)})
		}
	})
}

func (t *TinyGoTransport) conn(h Handle) (*tinygoConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return c, nil
}

// forget removes h from the tables and reports whether it was still held.
func (t *TinyGoTransport) forget(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[h]
	if !ok {
		return false
	}
	delete(t.conns, h)
	delete(t.byAddr, c.address)
	return true
}

// dropped reports a lost connection exactly once.
func (t *TinyGoTransport) dropped(h Handle, reason int) {
	t.mu.Lock()
	c := t.conns[h]
	t.mu.Unlock()
	if !t.forget(h) {
		return
	}
	c.close()
	t.sink(Disconnected{Handle: h, Reason: reason})
}

// control is one state characteristic plus its control point.
type control struct {
	state   bluetooth.DeviceCharacteristic
	point   bluetooth.DeviceCharacteristic
	counter atomic.Uint32
}

func (c *control) count() uint8 {
	return uint8(c.counter.Load())
}

type tinygoConn struct {
	handle  Handle
	address string
	device  bluetooth.Device

	volume  *control
	offsets []*control
	gains   []*control

	ops  chan func()
	done chan struct{}
	once sync.Once
}

func newTinygoConn(h Handle, address string) *tinygoConn {
	c := &tinygoConn{
		handle:  h,
		address: address,
		ops:     make(chan func(), requestQueueSize),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *tinygoConn) run() {
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.done:
			return
		}
	}
}

func (c *tinygoConn) enqueue(op func()) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %d", ErrUnknownHandle, c.handle)
	default:
	}
	select {
	case c.ops <- op:
		return nil
	default:
		return fmt.Errorf("ble: request queue full for handle %d", c.handle)
	}
}

func (c *tinygoConn) close() {
	c.once.Do(func() { close(c.done) })
}

// discover walks every primary service and picks up each VCS, VOCS and AICS
// instance in the order the peripheral lists them.
func (c *tinygoConn) discover() error {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}

	c.volume, c.offsets, c.gains = nil, nil, nil
	for i := range svcs {
		svc := svcs[i]
		switch svc.UUID() {
		case bluetooth.New16BitUUID(vcp.ServiceVCS):
			ctl, err := discoverControl(svc, vcp.CharVolumeState, vcp.CharVolumeControlPoint)
			if err != nil {
				return err
			}
			c.volume = ctl
		case bluetooth.New16BitUUID(vcp.ServiceVOCS):
			ctl, err := discoverControl(svc, vcp.CharOffsetState, vcp.CharOffsetControlPoint)
			if err != nil {
				return err
			}
			c.offsets = append(c.offsets, ctl)
		case bluetooth.New16BitUUID(vcp.ServiceAICS):
			ctl, err := discoverControl(svc, vcp.CharInputState, vcp.CharInputControlPoint)
			if err != nil {
				return err
			}
			c.gains = append(c.gains, ctl)
		}
	}
	if c.volume == nil && len(c.offsets) == 0 && len(c.gains) == 0 {
		return fmt.Errorf("ble: no volume control services on %s", c.address)
	}
	return nil
}

func discoverControl(svc bluetooth.DeviceService, stateID, pointID uint16) (*control, error) {
	stateUUID := bluetooth.New16BitUUID(stateID)
	pointUUID := bluetooth.New16BitUUID(pointID)
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{stateUUID, pointUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID(), err)
	}
	ctl := &control{}
	var haveState, havePoint bool
	for _, ch := range chars {
		switch ch.UUID() {
		case stateUUID:
			ctl.state, haveState = ch, true
		case pointUUID:
			ctl.point, havePoint = ch, true
		}
	}
	if !haveState || !havePoint {
		return nil, fmt.Errorf("ble: service %s is missing state or control point", svc.UUID())
	}
	return ctl, nil
}

// subscribe enables notifications on every state characteristic and reports
// the initial value of each so the caller starts from known state.
func (c *tinygoConn) subscribe(sink Sink) error {
	h := c.handle
	if ctl := c.volume; ctl != nil {
		handle := func(buf []byte) {
			st, err := vcp.DecodeVolumeState(buf)
			if err != nil {
				sink(VolumeState{Handle: h, Err: err})
				return
			}
			ctl.counter.Store(uint32(st.Counter))
			sink(VolumeState{Handle: h, Volume: st.Volume, Mute: st.Mute})
		}
		if err := watch(ctl, handle); err != nil {
			return fmt.Errorf("ble: subscribe volume state: %w", err)
		}
	}
	for i, ctl := range c.offsets {
		handle := func(buf []byte) {
			st, err := vcp.DecodeOffsetState(buf)
			if err != nil {
				sink(OffsetState{Handle: h, Instance: i, Err: err})
				return
			}
			ctl.counter.Store(uint32(st.Counter))
			sink(OffsetState{Handle: h, Instance: i, Offset: st.Offset})
		}
		if err := watch(ctl, handle); err != nil {
			return fmt.Errorf("ble: subscribe offset state %d: %w", i, err)
		}
	}
	for i, ctl := range c.gains {
		handle := func(buf []byte) {
			st, err := vcp.DecodeInputState(buf)
			if err != nil {
				sink(GainState{Handle: h, Instance: i, Err: err})
				return
			}
			ctl.counter.Store(uint32(st.Counter))
			sink(GainState{Handle: h, Instance: i, Gain: st.Gain, Mute: st.Muted(), Mode: st.Mode})
		}
		if err := watch(ctl, handle); err != nil {
			return fmt.Errorf("ble: subscribe input state %d: %w", i, err)
		}
	}
	return nil
}

func watch(ctl *control, handle func([]byte)) error {
	if err := ctl.state.EnableNotifications(handle); err != nil {
		return err
	}
	buf := make([]byte, 8)
	n, err := ctl.state.Read(buf)
	if err != nil {
		// Notifications still work; the first one will seed the state.
		slog.Debug("[BLE] initial state read failed", "error", err)
		return nil
	}
	handle(buf[:n])
	return nil
}
