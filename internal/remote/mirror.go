package remote

import (
	"errors"
	"fmt"
	"log/slog"
)

// PairingMode says whether slots are independent or form a stereo pair.
type PairingMode int

const (
	PairingNone PairingMode = iota
	PairingStereo
)

// Pairing is selected at startup. Only PairingStereo activates the
// Synchronizer; Right is the slot whose values the display shows.
type Pairing struct {
	Mode  PairingMode
	Right SlotID
	Left  SlotID
}

// NoPairing returns the independent-slots configuration.
func NoPairing() Pairing {
	return Pairing{Mode: PairingNone}
}

// StereoPairing pairs right and left as one stereo device.
func StereoPairing(right, left SlotID) Pairing {
	return Pairing{Mode: PairingStereo, Right: right, Left: left}
}

// Stereo reports whether the pairing is a stereo pair.
func (p Pairing) Stereo() bool {
	return p.Mode == PairingStereo
}

// Peer returns the other half of the pair for id.
func (p Pairing) Peer(id SlotID) (SlotID, bool) {
	if !p.Stereo() {
		return 0, false
	}
	switch id {
	case p.Right:
		return p.Left, true
	case p.Left:
		return p.Right, true
	}
	return 0, false
}

// Quantity names one mirrored control value.
type Quantity int

const (
	QVolume Quantity = iota
	QVolumeMute
	QOffset
	QGain
	QGainMute
)

func (q Quantity) String() string {
	switch q {
	case QVolume:
		return "volume"
	case QVolumeMute:
		return "volume-mute"
	case QOffset:
		return "offset"
	case QGain:
		return "gain"
	case QGainMute:
		return "gain-mute"
	default:
		return fmt.Sprintf("Quantity(%d)", int(q))
	}
}

// mirror converts a value reported by one ear into the value the other ear
// should hold. Balance is one axis seen from opposite sides, so offsets flip
// sign; everything else is copied.
func (q Quantity) mirror(v int) int {
	if q == QOffset {
		return -v
	}
	return v
}

type quantityKey struct {
	q        Quantity
	instance int
}

type pendingValue struct {
	slot  SlotID
	value int
}

// Synchronizer keeps the two halves of a stereo pair in one state.
//
// A user change is written to one ear only and marked dirty. When that ear
// reports the new state, the mirrored value is written to the other ear and
// the flag is cleared. Reports from the other ear that arrive while a change
// is dirty and repeat that ear's last value are treated as stale and not
// mirrored back; a report carrying a new value is a change made on that ear,
// so it replaces the pending change. The echo of a corrective write is
// consumed once without mirroring, which ends the exchange even when the
// peripheral rounds the value.
type Synchronizer struct {
	pairing  Pairing
	registry *Registry
	controls *Controls

	dirty  map[quantityKey]pendingValue
	expect map[quantityKey]pendingValue
}

// NewSynchronizer creates a synchronizer. With a non-stereo pairing every
// method is a no-op.
func NewSynchronizer(p Pairing, r *Registry, c *Controls) *Synchronizer {
	return &Synchronizer{
		pairing:  p,
		registry: r,
		controls: c,
		dirty:    make(map[quantityKey]pendingValue),
		expect:   make(map[quantityKey]pendingValue),
	}
}

// Active reports whether mirroring is enabled.
func (y *Synchronizer) Active() bool {
	return y.pairing.Stereo()
}

// MarkDirty records a user-driven change just written to slot. A value the
// slot already holds is not marked: the peripheral need not report it, and
// an unanswered marker would hide every change made on the other ear.
func (y *Synchronizer) MarkDirty(slot SlotID, q Quantity, instance, value int) {
	if _, ok := y.pairing.Peer(slot); !ok {
		return
	}
	key := quantityKey{q, instance}
	if y.holds(slot, key, value) {
		slog.Debug("[SYNC] change matches committed value, not marking",
			"slot", slot, "quantity", q, "instance", instance, "value", value)
		return
	}
	y.dirty[key] = pendingValue{slot: slot, value: value}
	delete(y.expect, key)
}

func (y *Synchronizer) holds(slot SlotID, key quantityKey, value int) bool {
	if y.registry == nil {
		return false
	}
	s, err := y.registry.Get(slot)
	if err != nil {
		return false
	}
	cur, ok := valueOf(s, key)
	return ok && cur == value
}

// Dirty reports whether a local change to q is waiting for its echo.
func (y *Synchronizer) Dirty(q Quantity, instance int) bool {
	_, ok := y.dirty[quantityKey{q, instance}]
	return ok
}

// Forget drops every pending marker that involves slot, after a disconnect
// or a rejected write.
func (y *Synchronizer) Forget(slot SlotID) {
	for k, p := range y.dirty {
		if p.slot == slot {
			delete(y.dirty, k)
		}
	}
	for k, p := range y.expect {
		if p.slot == slot {
			delete(y.expect, k)
		}
	}
}

// Observe reconciles the peer of src after src reported value for q.
// It must be called after the report was committed to src's topology;
// changed says whether the report moved src off its previous value.
func (y *Synchronizer) Observe(src *Slot, q Quantity, instance, value int, changed bool) error {
	peerID, ok := y.pairing.Peer(src.ID)
	if !ok {
		return nil
	}
	key := quantityKey{q, instance}

	if d, ok := y.dirty[key]; ok {
		if d.slot == src.ID {
			delete(y.dirty, key)
			return y.push(peerID, key, q.mirror(value))
		}
		if !changed {
			slog.Debug("[SYNC] ignoring stale report while local change is pending",
				"slot", src.ID, "quantity", q, "instance", instance, "value", value)
			return nil
		}
		slog.Debug("[SYNC] peer changed while local change is pending, following peer",
			"slot", src.ID, "quantity", q, "instance", instance, "value", value)
		delete(y.dirty, key)
	}

	if e, ok := y.expect[key]; ok && e.slot == src.ID {
		delete(y.expect, key)
		if e.value != value {
			slog.Debug("[SYNC] peer settled on a different value",
				"slot", src.ID, "quantity", q, "instance", instance, "want", e.value, "got", value)
		}
		return nil
	}

	peer, err := y.registry.Get(peerID)
	if err != nil {
		return err
	}
	target := q.mirror(value)
	if cur, ok := valueOf(peer, key); ok && cur == target {
		return nil
	}
	return y.push(peerID, key, target)
}

// push writes target to the peer and remembers to swallow its echo.
func (y *Synchronizer) push(peerID SlotID, key quantityKey, target int) error {
	peer, err := y.registry.Get(peerID)
	if err != nil {
		return err
	}
	if !peer.Connected() || !peer.Discovered {
		slog.Debug("[SYNC] peer not ready, skipping mirror", "slot", peerID, "quantity", key.q)
		return nil
	}

	switch key.q {
	case QVolume:
		err = y.controls.SetVolume(peerID, target)
	case QVolumeMute:
		err = y.controls.SetVolumeMute(peerID, target != 0)
	case QOffset:
		err = y.controls.SetOffset(peerID, key.instance, target)
	case QGain:
		err = y.controls.SetGain(peerID, key.instance, target)
	case QGainMute:
		err = y.controls.SetGainMute(peerID, key.instance, target != 0)
	}
	if errors.Is(err, ErrInvalidInstance) {
		slog.Debug("[SYNC] peer lacks control, skipping mirror", "slot", peerID, "quantity", key.q, "instance", key.instance)
		return nil
	}
	if err != nil {
		return err
	}
	y.expect[key] = pendingValue{slot: peerID, value: target}
	slog.Info("[SYNC] mirrored", "slot", peerID, "quantity", key.q, "instance", key.instance, "value", target)
	return nil
}

// valueOf reads the committed value of key from a slot's topology.
func valueOf(s *Slot, key quantityKey) (int, bool) {
	if !s.Discovered {
		return 0, false
	}
	t := s.Controls
	switch key.q {
	case QVolume:
		return int(t.Volume), t.HasVolume
	case QVolumeMute:
		return boolInt(t.VolumeMute), t.HasVolume
	case QOffset:
		if key.instance < 0 || key.instance >= len(t.Offsets) {
			return 0, false
		}
		return int(t.Offsets[key.instance]), true
	case QGain:
		if key.instance < 0 || key.instance >= len(t.Gains) {
			return 0, false
		}
		return int(t.Gains[key.instance].Value), true
	case QGainMute:
		if key.instance < 0 || key.instance >= len(t.Gains) {
			return 0, false
		}
		return boolInt(t.Gains[key.instance].Mute), true
	}
	return 0, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
