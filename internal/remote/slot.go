// Package remote is the controller core: it scans for configured hearing
// instruments, connects and discovers them one slot at a time, keeps their
// volume, offset and gain state, and mirrors that state across a stereo pair.
//
// Everything in this package runs on one goroutine, the Orchestrator's event
// loop. Nothing here is safe for concurrent use except Orchestrator.Post and
// Orchestrator.Submit.
package remote

import (
	"fmt"

	"github.com/chaz8081/hiremote/internal/ble"
)

// SlotID is the stable identity of one target peripheral.
type SlotID int

// Target is a configured device name bound to a slot.
type Target struct {
	Name string
	Slot SlotID
}

// ConnState is the per-slot connection state.
type ConnState int

const (
	Unconnected ConnState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnState) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Gain is one gain control's committed state.
type Gain struct {
	Value int8
	Mute  bool
	Mode  uint8
}

// Topology is the discovered control layout of a slot and the last state
// each control reported. Instance counts are fixed once discovery succeeds.
type Topology struct {
	HasVolume  bool
	Volume     uint8
	VolumeMute bool
	Offsets    []int16
	Gains      []Gain
}

func newTopology(offsets, gains int, volume bool) Topology {
	return Topology{
		HasVolume: volume,
		Offsets:   make([]int16, offsets),
		Gains:     make([]Gain, gains),
	}
}

func (t Topology) clone() Topology {
	c := t
	c.Offsets = append([]int16(nil), t.Offsets...)
	c.Gains = append([]Gain(nil), t.Gains...)
	return c
}

// Slot is the registry record for one target.
type Slot struct {
	ID      SlotID
	Name    string
	Address string
	Handle  ble.Handle

	Found       bool
	State       ConnState
	Discovering bool
	Discovered  bool

	Controls Topology
}

// Connected reports whether the slot holds a live connection.
func (s *Slot) Connected() bool {
	return s.State == Connected
}

// reset returns the slot to its unconnected state. The recorded address is
// kept so the slot can be reconnected without rescanning.
func (s *Slot) reset() {
	s.State = Unconnected
	s.Handle = 0
	s.Discovering = false
	s.Discovered = false
	s.Controls = Topology{}
}

// Registry owns one Slot per configured target, addressed by SlotID.
type Registry struct {
	slots []*Slot
}

// NewRegistry creates a registry with one unconnected slot per target.
// Targets are placed by their Slot field, which must be 0..len-1.
func NewRegistry(targets []Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("remote: at least one target is required")
	}
	slots := make([]*Slot, len(targets))
	for _, t := range targets {
		if t.Slot < 0 || int(t.Slot) >= len(targets) {
			return nil, fmt.Errorf("remote: target %q has slot %d outside 0..%d", t.Name, t.Slot, len(targets)-1)
		}
		if slots[t.Slot] != nil {
			return nil, fmt.Errorf("remote: slot %d assigned twice", t.Slot)
		}
		slots[t.Slot] = &Slot{ID: t.Slot, Name: t.Name}
	}
	return &Registry{slots: slots}, nil
}

// Len returns the number of slots.
func (r *Registry) Len() int {
	return len(r.slots)
}

// Get returns the slot with the given id.
func (r *Registry) Get(id SlotID) (*Slot, error) {
	if id < 0 || int(id) >= len(r.slots) {
		return nil, slotErr(id, "lookup", ErrInvalidSlot)
	}
	return r.slots[id], nil
}

// ByHandle returns the slot currently bound to connection handle h.
func (r *Registry) ByHandle(h ble.Handle) (*Slot, bool) {
	if h == 0 {
		return nil, false
	}
	for _, s := range r.slots {
		if s.Handle == h && s.State != Unconnected {
			return s, true
		}
	}
	return nil, false
}

// Slots returns the slots in index order.
func (r *Registry) Slots() []*Slot {
	return r.slots
}

// ResetFound clears every slot's found flag for a new scan session.
func (r *Registry) ResetFound() {
	for _, s := range r.slots {
		s.Found = false
	}
}

// AllFound reports whether every slot is accounted for in the current scan:
// found by it, or already connected and therefore not advertising.
func (r *Registry) AllFound() bool {
	return r.all(func(s *Slot) bool { return s.Found || s.Connected() })
}

// AllConnected reports whether every slot is connected.
func (r *Registry) AllConnected() bool {
	return r.all((*Slot).Connected)
}

// AllDiscovered reports whether every slot has a discovered topology.
func (r *Registry) AllDiscovered() bool {
	return r.all(func(s *Slot) bool { return s.Discovered })
}

func (r *Registry) all(pred func(*Slot) bool) bool {
	for _, s := range r.slots {
		if !pred(s) {
			return false
		}
	}
	return true
}

// next returns the first slot at or after from, in ascending order and then
// wrapping to the start, that satisfies pred.
func (r *Registry) next(from SlotID, pred func(*Slot) bool) (*Slot, bool) {
	n := len(r.slots)
	for i := 0; i < n; i++ {
		s := r.slots[(int(from)+i)%n]
		if pred(s) {
			return s, true
		}
	}
	return nil, false
}
