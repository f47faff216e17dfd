package remote

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/hiremote/internal/ble"
)

var errUnknownHandle = errors.New("remote: event for unknown connection handle")

// CascadeStep describes what a cascade did in response to one event.
type CascadeStep struct {
	// Slot is the slot the event was about.
	Slot *Slot
	// Next is the slot the cascade moved on to, if any.
	Next *Slot
	// Done is set when every slot reached the cascade's target state.
	Done bool
}

// Cascade sequences connect and discovery requests across slots, one
// completion at a time.
type Cascade struct {
	transport ble.Transport
	registry  *Registry
	state     *State
}

// NewCascade creates a cascade controller over the registry. It shares the
// orchestrator's flags through state.
func NewCascade(t ble.Transport, r *Registry, state *State) *Cascade {
	return &Cascade{transport: t, registry: r, state: state}
}

func unconnected(s *Slot) bool { return s.State == Unconnected }

func undiscovered(s *Slot) bool { return s.Connected() && !s.Discovered && !s.Discovering }

// ConnectAll sets connect-all and starts the cascade at slot 0.
func (c *Cascade) ConnectAll() (*Slot, error) {
	c.state.ConnectAll = true
	return c.Connect(0)
}

// Connect starts connecting start. If start is already connected the
// cascade moves on to the next unconnected slot in ascending order. It
// returns the slot being connected, or nil when none is left.
func (c *Cascade) Connect(start SlotID) (*Slot, error) {
	s, err := c.registry.Get(start)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case Connecting:
		return nil, slotErr(start, "connect", ErrAlreadyInProgress)
	case Unconnected:
	default:
		next, ok := c.registry.next(start, unconnected)
		if !ok {
			if c.registry.AllConnected() {
				c.state.ConnectAll = false
			}
			return nil, nil
		}
		s = next
	}
	if err := c.connectSlot(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Cascade) connectSlot(s *Slot) error {
	if s.Address == "" {
		c.state.ConnectAll = false
		return slotErr(s.ID, "connect", ErrNotFound)
	}
	h, err := c.transport.Connect(s.Address)
	if err != nil {
		c.state.ConnectAll = false
		return transportErr(s.ID, "connect", err)
	}
	s.Handle = h
	s.State = Connecting
	slog.Info("[CONN] connecting", "slot", s.ID, "address", s.Address, "handle", h)
	return nil
}

// HandleConnected commits a successful connection and, under connect-all,
// starts the next unconnected slot.
func (c *Cascade) HandleConnected(ev ble.Connected) (CascadeStep, error) {
	s, ok := c.registry.ByHandle(ev.Handle)
	if !ok {
		return CascadeStep{}, fmt.Errorf("%w: %d", errUnknownHandle, ev.Handle)
	}
	s.State = Connected
	step := CascadeStep{Slot: s}
	slog.Info("[CONN] connected", "slot", s.ID)

	if c.registry.AllConnected() {
		c.state.ConnectAll = false
		step.Done = true
		return step, nil
	}
	if !c.state.ConnectAll {
		return step, nil
	}
	next, ok := c.registry.next(s.ID+1, unconnected)
	if !ok {
		// The rest are still connecting.
		return step, nil
	}
	if err := c.connectSlot(next); err != nil {
		return step, err
	}
	step.Next = next
	return step, nil
}

// HandleConnectFailed returns the slot to unconnected and aborts connect-all.
func (c *Cascade) HandleConnectFailed(ev ble.ConnectFailed) (CascadeStep, error) {
	s, ok := c.registry.ByHandle(ev.Handle)
	if !ok {
		return CascadeStep{}, fmt.Errorf("%w: %d", errUnknownHandle, ev.Handle)
	}
	s.reset()
	c.state.ConnectAll = false
	cause := ev.Err
	if cause == nil {
		cause = ble.StatusError(ev.Code)
	}
	slog.Warn("[CONN] connect failed", "slot", s.ID, "error", cause)
	return CascadeStep{Slot: s}, transportErr(s.ID, "connect", cause)
}

// HandleDisconnected returns the slot to unconnected. Any multi-slot
// cascade in flight is abandoned; other slots are untouched.
func (c *Cascade) HandleDisconnected(ev ble.Disconnected) (CascadeStep, error) {
	s, ok := c.registry.ByHandle(ev.Handle)
	if !ok {
		return CascadeStep{}, fmt.Errorf("%w: %d", errUnknownHandle, ev.Handle)
	}
	s.reset()
	c.state.ConnectAll = false
	c.state.DiscoverAll = false
	c.state.AllDetected = false
	slog.Info("[CONN] disconnected", "slot", s.ID, "reason", ev.Reason)
	return CascadeStep{Slot: s}, nil
}

// HandleDisconnectFailed restores a slot whose disconnect the stack
// rejected. The link is still up, so the slot is connected again and can be
// disconnected or controlled as before.
func (c *Cascade) HandleDisconnectFailed(h ble.Handle) (*Slot, error) {
	s, ok := c.registry.ByHandle(h)
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownHandle, h)
	}
	if s.State == Disconnecting {
		s.State = Connected
		slog.Warn("[CONN] disconnect rejected, link kept", "slot", s.ID)
	}
	return s, nil
}

// Disconnect requests teardown of one slot's connection.
func (c *Cascade) Disconnect(id SlotID) error {
	s, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if s.State != Connected && s.State != Connecting {
		return slotErr(id, "disconnect", ErrNotConnected)
	}
	if err := c.transport.Disconnect(s.Handle); err != nil {
		return transportErr(id, "disconnect", err)
	}
	s.State = Disconnecting
	return nil
}

// DisconnectAll disconnects every connected slot and clears both cascade
// flags. Failures for individual slots are joined.
func (c *Cascade) DisconnectAll() error {
	c.state.ConnectAll = false
	c.state.DiscoverAll = false
	var errs []error
	for _, s := range c.registry.Slots() {
		if s.State != Connected && s.State != Connecting {
			continue
		}
		if err := c.Disconnect(s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiscoverAll clears every slot's discovered flag, sets discover-all and
// starts discovery at slot 0.
func (c *Cascade) DiscoverAll() (*Slot, error) {
	for _, s := range c.registry.Slots() {
		if !s.Discovering {
			s.Discovered = false
		}
	}
	c.state.DiscoverAll = true
	return c.Discover(0)
}

// Discover starts control discovery on start, which must be connected. If
// start is already discovered the cascade moves on to the next connected,
// undiscovered slot. It returns the slot being discovered, or nil.
func (c *Cascade) Discover(start SlotID) (*Slot, error) {
	s, err := c.registry.Get(start)
	if err != nil {
		return nil, err
	}
	if !s.Connected() {
		c.state.DiscoverAll = false
		return nil, slotErr(start, "discover", ErrNotConnected)
	}
	if s.Discovering {
		return nil, slotErr(start, "discover", ErrAlreadyInProgress)
	}
	if s.Discovered {
		next, ok := c.registry.next(start, undiscovered)
		if !ok {
			return nil, nil
		}
		s = next
	}
	if err := c.discoverSlot(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Cascade) discoverSlot(s *Slot) error {
	if err := c.transport.DiscoverControls(s.Handle); err != nil {
		c.state.DiscoverAll = false
		return transportErr(s.ID, "discover", err)
	}
	s.Discovering = true
	slog.Info("[VCP] discovering", "slot", s.ID)
	return nil
}

// HandleDiscoverComplete commits a slot's topology and, under discover-all,
// starts the next connected, undiscovered slot.
func (c *Cascade) HandleDiscoverComplete(ev ble.DiscoverComplete) (CascadeStep, error) {
	s, ok := c.registry.ByHandle(ev.Handle)
	if !ok {
		return CascadeStep{}, fmt.Errorf("%w: %d", errUnknownHandle, ev.Handle)
	}
	s.Discovering = false
	step := CascadeStep{Slot: s}
	if !s.Connected() {
		slog.Info("[VCP] discovery finished on a slot that is going away, dropped", "slot", s.ID, "state", s.State)
		return step, nil
	}
	if ev.Err != nil {
		c.state.DiscoverAll = false
		return step, transportErr(s.ID, "discover", ev.Err)
	}

	s.Controls = newTopology(ev.Offsets, ev.Gains, ev.Volume)
	s.Discovered = true
	slog.Info("[VCP] discovered", "slot", s.ID, "offsets", ev.Offsets, "gains", ev.Gains, "volume", ev.Volume)

	if c.registry.AllDiscovered() {
		c.state.DiscoverAll = false
		step.Done = true
		return step, nil
	}
	if !c.state.DiscoverAll {
		return step, nil
	}
	next, ok := c.registry.next(s.ID+1, undiscovered)
	if !ok {
		return step, nil
	}
	if err := c.discoverSlot(next); err != nil {
		return step, err
	}
	step.Next = next
	return step, nil
}
