package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress is returned when a scan, connect or discovery is
	// started while the same operation is already running.
	ErrAlreadyInProgress = errors.New("already in progress")
	// ErrInvalidSlot is returned for slot indexes outside the registry.
	ErrInvalidSlot = errors.New("invalid slot")
	// ErrNotConnected is returned for discovery or control writes on a slot
	// without a connection. It matches ErrInvalidSlot as well.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrInvalidSlot)
	// ErrInvalidInstance is returned for an offset or gain instance index at
	// or past the slot's discovered count.
	ErrInvalidInstance = errors.New("invalid instance")
	// ErrNotFound is returned when connecting a slot no scan has found.
	ErrNotFound = errors.New("device not found")
	// ErrOutOfRange is returned for control values outside their bounds.
	ErrOutOfRange = errors.New("value out of range")
	// ErrTransport wraps failures reported by the BLE stack.
	ErrTransport = errors.New("transport failure")
	// ErrScanTimeout is reported when a scan expires before every target
	// was found.
	ErrScanTimeout = errors.New("scan timeout")
)

// SlotError ties a failure to the slot it happened on.
type SlotError struct {
	Slot SlotID
	Op   string
	Err  error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("remote: slot %d: %s: %v", e.Slot, e.Op, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

func slotErr(slot SlotID, op string, err error) error {
	return &SlotError{Slot: slot, Op: op, Err: err}
}

// transportErr wraps a stack error so it matches ErrTransport and still
// exposes the original cause.
func transportErr(slot SlotID, op string, err error) error {
	return slotErr(slot, op, fmt.Errorf("%w: %w", ErrTransport, err))
}
