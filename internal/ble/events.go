package ble

import "fmt"

// Event is one notification from the BLE stack.
type Event interface {
	event()
}

// Advertisement is a scan result carrying a parsed short or complete name.
type Advertisement struct {
	Address string
	Name    string
}

// ScanTimeout reports that the stack gave up scanning on its own.
type ScanTimeout struct{}

// Connected reports a successful link-layer connection.
type Connected struct {
	Handle Handle
}

// ConnectFailed reports that a connection attempt did not complete.
type ConnectFailed struct {
	Handle Handle
	Code   int
	Err    error
}

// Disconnected reports the end of a connection.
type Disconnected struct {
	Handle Handle
	Reason int
}

// DiscoverComplete reports the result of DiscoverControls. Err is non-nil
// when discovery failed; the counts are meaningless in that case.
type DiscoverComplete struct {
	Handle  Handle
	Offsets int
	Gains   int
	Volume  bool
	Err     error
}

// VolumeState is a volume-control state notification.
type VolumeState struct {
	Handle Handle
	Volume uint8
	Mute   bool
	Err    error
}

// OffsetState is an offset-control (VOCS) state notification.
type OffsetState struct {
	Handle   Handle
	Instance int
	Offset   int16
	Err      error
}

// GainState is a gain-control (AICS) state notification.
type GainState struct {
	Handle   Handle
	Instance int
	Gain     int8
	Mute     bool
	Mode     uint8
	Err      error
}

// OpDisconnect is the WriteFailed op for a rejected Disconnect; the link
// stays up.
const OpDisconnect = "disconnect"

// WriteFailed reports that a previously accepted write request was rejected
// by the peripheral or the stack.
type WriteFailed struct {
	Handle Handle
	Op     string
	Err    error
}

func (Advertisement) event()    {}
func (ScanTimeout) event()      {}
func (Connected) event()        {}
func (ConnectFailed) event()    {}
func (Disconnected) event()     {}
func (DiscoverComplete) event() {}
func (VolumeState) event()      {}
func (OffsetState) event()      {}
func (GainState) event()        {}
func (WriteFailed) event()      {}

// StatusError is a non-zero status code reported by the stack.
type StatusError int

func (e StatusError) Error() string {
	return fmt.Sprintf("ble: status %d", int(e))
}
