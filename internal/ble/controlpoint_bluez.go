//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// writeControlPoint is the only write the BlueZ and bare-metal backends
// offer. On BlueZ it calls WriteValue without a type option, which BlueZ
// sends as a write request when the characteristic supports one, as every
// VCP control point does.
func writeControlPoint(ch bluetooth.DeviceCharacteristic, payload []byte) error {
	_, err := ch.WriteWithoutResponse(payload)
	return err
}
