package remote

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/hiremote/internal/ble"
)

// Control value bounds.
const (
	VolumeMin = 0
	VolumeMax = 255
	OffsetMin = -255
	OffsetMax = 255
	GainMin   = -128
	GainMax   = 127
)

// Controls issues volume, offset and gain writes for connected slots and
// commits the state notifications that come back. Writes are fire-and-forget:
// the topology only changes when the peripheral reports the new state.
type Controls struct {
	transport ble.Transport
	registry  *Registry
}

// NewControls creates a control session over the registry.
func NewControls(t ble.Transport, r *Registry) *Controls {
	return &Controls{transport: t, registry: r}
}

func (c *Controls) connected(id SlotID, op string) (*Slot, error) {
	s, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.Connected() {
		return nil, slotErr(id, op, ErrNotConnected)
	}
	return s, nil
}

func checkRange(id SlotID, op string, v, lo, hi int) error {
	if v < lo || v > hi {
		return slotErr(id, op, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, v, lo, hi))
	}
	return nil
}

func checkInstance(id SlotID, op string, instance, count int) error {
	if instance < 0 || instance >= count {
		return slotErr(id, op, fmt.Errorf("%w: %d of %d", ErrInvalidInstance, instance, count))
	}
	return nil
}

// SetVolume requests a new absolute volume on a slot.
func (c *Controls) SetVolume(id SlotID, volume int) error {
	const op = "set volume"
	if err := checkRange(id, op, volume, VolumeMin, VolumeMax); err != nil {
		return err
	}
	s, err := c.connected(id, op)
	if err != nil {
		return err
	}
	if !s.Controls.HasVolume {
		return slotErr(id, op, fmt.Errorf("%w: no volume control", ErrInvalidInstance))
	}
	if err := c.transport.WriteVolume(s.Handle, uint8(volume)); err != nil {
		return transportErr(id, op, err)
	}
	slog.Debug("[VCP] set volume", "slot", id, "volume", volume)
	return nil
}

// SetVolumeMute requests mute or unmute of a slot's volume control.
func (c *Controls) SetVolumeMute(id SlotID, mute bool) error {
	const op = "set volume mute"
	s, err := c.connected(id, op)
	if err != nil {
		return err
	}
	if !s.Controls.HasVolume {
		return slotErr(id, op, fmt.Errorf("%w: no volume control", ErrInvalidInstance))
	}
	if err := c.transport.WriteVolumeMute(s.Handle, mute); err != nil {
		return transportErr(id, op, err)
	}
	slog.Debug("[VCP] set volume mute", "slot", id, "mute", mute)
	return nil
}

// SetOffset requests a new offset on one offset control of a slot.
func (c *Controls) SetOffset(id SlotID, instance, offset int) error {
	const op = "set offset"
	if err := checkRange(id, op, offset, OffsetMin, OffsetMax); err != nil {
		return err
	}
	s, err := c.connected(id, op)
	if err != nil {
		return err
	}
	if err := checkInstance(id, op, instance, len(s.Controls.Offsets)); err != nil {
		return err
	}
	if err := c.transport.WriteOffset(s.Handle, instance, int16(offset)); err != nil {
		return transportErr(id, op, err)
	}
	slog.Debug("[VCP] set offset", "slot", id, "instance", instance, "offset", offset)
	return nil
}

// SetGain requests a new gain on one gain control of a slot.
func (c *Controls) SetGain(id SlotID, instance, gain int) error {
	const op = "set gain"
	if err := checkRange(id, op, gain, GainMin, GainMax); err != nil {
		return err
	}
	s, err := c.connected(id, op)
	if err != nil {
		return err
	}
	if err := checkInstance(id, op, instance, len(s.Controls.Gains)); err != nil {
		return err
	}
	if err := c.transport.WriteGain(s.Handle, instance, int8(gain)); err != nil {
		return transportErr(id, op, err)
	}
	slog.Debug("[VCP] set gain", "slot", id, "instance", instance, "gain", gain)
	return nil
}

// SetGainMute requests mute or unmute of one gain control of a slot.
func (c *Controls) SetGainMute(id SlotID, instance int, mute bool) error {
	const op = "set gain mute"
	s, err := c.connected(id, op)
	if err != nil {
		return err
	}
	if err := checkInstance(id, op, instance, len(s.Controls.Gains)); err != nil {
		return err
	}
	if err := c.transport.WriteGainMute(s.Handle, instance, mute); err != nil {
		return transportErr(id, op, err)
	}
	slog.Debug("[VCP] set gain mute", "slot", id, "instance", instance, "mute", mute)
	return nil
}

// notified resolves the slot a state notification belongs to. Notifications
// before discovery have nothing to commit to.
func (c *Controls) notified(h ble.Handle, op string, evErr error) (*Slot, error) {
	s, ok := c.registry.ByHandle(h)
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownHandle, h)
	}
	if evErr != nil {
		return s, transportErr(s.ID, op, evErr)
	}
	if !s.Discovered {
		return s, slotErr(s.ID, op, fmt.Errorf("%w: topology not discovered", ErrInvalidInstance))
	}
	return s, nil
}

// CommitVolume records a volume state notification.
func (c *Controls) CommitVolume(ev ble.VolumeState) (*Slot, error) {
	const op = "volume state"
	s, err := c.notified(ev.Handle, op, ev.Err)
	if err != nil {
		return s, err
	}
	if !s.Controls.HasVolume {
		return s, slotErr(s.ID, op, fmt.Errorf("%w: no volume control", ErrInvalidInstance))
	}
	s.Controls.Volume = ev.Volume
	s.Controls.VolumeMute = ev.Mute
	slog.Debug("[VCP] volume state", "slot", s.ID, "volume", ev.Volume, "mute", ev.Mute)
	return s, nil
}

// CommitOffset records an offset state notification.
func (c *Controls) CommitOffset(ev ble.OffsetState) (*Slot, error) {
	const op = "offset state"
	s, err := c.notified(ev.Handle, op, ev.Err)
	if err != nil {
		return s, err
	}
	if err := checkInstance(s.ID, op, ev.Instance, len(s.Controls.Offsets)); err != nil {
		return s, err
	}
	s.Controls.Offsets[ev.Instance] = ev.Offset
	slog.Debug("[VCP] offset state", "slot", s.ID, "instance", ev.Instance, "offset", ev.Offset)
	return s, nil
}

// CommitGain records a gain state notification.
func (c *Controls) CommitGain(ev ble.GainState) (*Slot, error) {
	const op = "gain state"
	s, err := c.notified(ev.Handle, op, ev.Err)
	if err != nil {
		return s, err
	}
	if err := checkInstance(s.ID, op, ev.Instance, len(s.Controls.Gains)); err != nil {
		return s, err
	}
	s.Controls.Gains[ev.Instance] = Gain{Value: ev.Gain, Mute: ev.Mute, Mode: ev.Mode}
	slog.Debug("[VCP] gain state", "slot", s.ID, "instance", ev.Instance, "gain", ev.Gain, "mute", ev.Mute, "mode", ev.Mode)
	return s, nil
}
