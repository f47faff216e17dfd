// Package ble defines the contract between the hearing-instrument remote and
// the Bluetooth LE stack, and provides a tinygo-backed implementation of it.
//
// The remote only ever issues requests through Transport and consumes Events
// delivered to a Sink. Requests return immediately; their outcome arrives
// later as a distinct event.
package ble

import "time"

// Handle identifies one connection. It is allocated by the transport on
// Connect and stays valid until the matching Disconnected or ConnectFailed
// event has been delivered.
type Handle uint32

// Fast scan timing, matching the GAP "fast" interval/window.
const (
	FastScanInterval   = 60 * time.Millisecond
	FastScanWindow     = 30 * time.Millisecond
	DefaultScanTimeout = 10 * time.Second
)

// ScanParams configures a scan request.
type ScanParams struct {
	Active   bool
	Interval time.Duration
	Window   time.Duration
	Timeout  time.Duration
}

// FastScanParams returns an active, fast-interval scan configuration.
func FastScanParams(timeout time.Duration) ScanParams {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return ScanParams{
		Active:   true,
		Interval: FastScanInterval,
		Window:   FastScanWindow,
		Timeout:  timeout,
	}
}

// Transport abstracts the BLE stack for testing.
type Transport interface {
	// StartScan begins discovering advertisers. Results arrive as Advertisement events.
	StartScan(params ScanParams) error
	// StopScan ends an active scan. Stopping an idle scanner is not an error.
	StopScan() error
	// Connect starts a connection to address. The returned handle is reported
	// again in a Connected or ConnectFailed event.
	Connect(address string) (Handle, error)
	// Disconnect tears down a connection. Completion arrives as Disconnected.
	Disconnect(h Handle) error
	// DiscoverControls fetches the volume-control topology. Completion arrives
	// as DiscoverComplete.
	DiscoverControls(h Handle) error

	WriteVolume(h Handle, volume uint8) error
	WriteVolumeMute(h Handle, mute bool) error
	WriteOffset(h Handle, instance int, offset int16) error
	WriteGain(h Handle, instance int, gain int8) error
	WriteGainMute(h Handle, instance int, mute bool) error
}

// Sink receives transport events. Implementations must not block for long;
// the remote's sink only enqueues.
type Sink func(Event)
