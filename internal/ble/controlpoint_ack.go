//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// writeControlPoint issues an acknowledged write. Control points reject
// write commands, and these backends expose both kinds.
func writeControlPoint(ch bluetooth.DeviceCharacteristic, payload []byte) error {
	_, err := ch.Write(payload)
	return err
}
