// Package vcp encodes and decodes the Volume Control Profile payloads used by
// the tinygo transport: Volume Control (VCS), Volume Offset Control (VOCS)
// and Audio Input Control (AICS) state characteristics and control points.
package vcp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 16-bit assigned numbers.
const (
	ServiceVCS  uint16 = 0x1844
	ServiceVOCS uint16 = 0x1845
	ServiceAICS uint16 = 0x1843

	CharVolumeState        uint16 = 0x2B7D
	CharVolumeControlPoint uint16 = 0x2B7E
	CharOffsetState        uint16 = 0x2B80
	CharOffsetControlPoint uint16 = 0x2B82
	CharInputState         uint16 = 0x2B77
	CharInputControlPoint  uint16 = 0x2B7B
)

// Value bounds.
const (
	OffsetMin = -255
	OffsetMax = 255
	GainMin   = -128
	GainMax   = 127
)

// VCS control point opcodes.
const (
	opSetAbsoluteVolume byte = 0x04
	opVolumeUnmute      byte = 0x05
	opVolumeMute        byte = 0x06
)

// VOCS control point opcodes.
const (
	opSetOffset byte = 0x01
)

// AICS control point opcodes.
const (
	opSetGain     byte = 0x01
	opInputUnmute byte = 0x02
	opInputMute   byte = 0x03
)

// AICS mute field values.
const (
	MuteOff      uint8 = 0
	MuteOn       uint8 = 1
	MuteDisabled uint8 = 2
)

// ErrShortPayload is returned when a state characteristic value is truncated.
var ErrShortPayload = errors.New("vcp: short payload")

// VolumeState is the decoded VCS Volume State characteristic.
//
//	byte 0: volume setting (0..255)
//	byte 1: mute (0 or 1)
//	byte 2: change counter
type VolumeState struct {
	Volume  uint8
	Mute    bool
	Counter uint8
}

// OffsetState is the decoded VOCS Offset State characteristic.
//
//	bytes 0-1: volume offset, int16 little-endian
//	byte 2:    change counter
type OffsetState struct {
	Offset  int16
	Counter uint8
}

// InputState is the decoded AICS Audio Input State characteristic.
//
//	byte 0: gain setting, int8
//	byte 1: mute (0 off, 1 on, 2 disabled)
//	byte 2: gain mode
//	byte 3: change counter
type InputState struct {
	Gain    int8
	Mute    uint8
	Mode    uint8
	Counter uint8
}

// Muted reports whether the input is muted.
func (s InputState) Muted() bool {
	return s.Mute == MuteOn
}

// DecodeVolumeState parses a VCS Volume State value.
func DecodeVolumeState(data []byte) (VolumeState, error) {
	if len(data) < 3 {
		return VolumeState{}, fmt.Errorf("%w: volume state has %d bytes, want 3", ErrShortPayload, len(data))
	}
	return VolumeState{
		Volume:  data[0],
		Mute:    data[1] != 0,
		Counter: data[2],
	}, nil
}

// DecodeOffsetState parses a VOCS Offset State value.
func DecodeOffsetState(data []byte) (OffsetState, error) {
	if len(data) < 3 {
		return OffsetState{}, fmt.Errorf("%w: offset state has %d bytes, want 3", ErrShortPayload, len(data))
	}
	return OffsetState{
		Offset:  int16(binary.LittleEndian.Uint16(data[0:2])),
		Counter: data[2],
	}, nil
}

// DecodeInputState parses an AICS Audio Input State value.
func DecodeInputState(data []byte) (InputState, error) {
	if len(data) < 4 {
		return InputState{}, fmt.Errorf("%w: input state has %d bytes, want 4", ErrShortPayload, len(data))
	}
	return InputState{
		Gain:    int8(data[0]),
		Mute:    data[1],
		Mode:    data[2],
		Counter: data[3],
	}, nil
}

// SetAbsoluteVolume encodes a VCS "Set Absolute Volume" request.
func SetAbsoluteVolume(counter, volume uint8) []byte {
	return []byte{opSetAbsoluteVolume, counter, volume}
}

// SetVolumeMute encodes a VCS "Mute" or "Unmute" request.
func SetVolumeMute(counter uint8, mute bool) []byte {
	if mute {
		return []byte{opVolumeMute, counter}
	}
	return []byte{opVolumeUnmute, counter}
}

// SetOffset encodes a VOCS "Set Volume Offset" request. The offset is
// clamped to [OffsetMin, OffsetMax].
func SetOffset(counter uint8, offset int16) []byte {
	if offset < OffsetMin {
		offset = OffsetMin
	}
	if offset > OffsetMax {
		offset = OffsetMax
	}
	buf := []byte{opSetOffset, counter, 0, 0}
	binary.LittleEndian.PutUint16(buf[2:], uint16(offset))
	return buf
}

// SetGain encodes an AICS "Set Gain Setting" request.
func SetGain(counter uint8, gain int8) []byte {
	return []byte{opSetGain, counter, byte(gain)}
}

// SetInputMute encodes an AICS "Mute" or "Unmute" request.
func SetInputMute(counter uint8, mute bool) []byte {
	if mute {
		return []byte{opInputMute, counter}
	}
	return []byte{opInputUnmute, counter}
}
