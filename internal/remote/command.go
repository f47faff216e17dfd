package remote

// Command is a user action: a button press or a control change.
type Command interface {
	command()
}

// ScanCmd starts a scan for every target.
type ScanCmd struct{}

// ConnectCmd connects every target, scanning first if needed.
type ConnectCmd struct{}

// DiscoverCmd discovers the controls of every connected target.
type DiscoverCmd struct{}

// DisconnectCmd disconnects every target.
type DisconnectCmd struct{}

// SetVolumeCmd sets an absolute volume on the surface at Slot.
type SetVolumeCmd struct {
	Slot  SlotID
	Value int
}

// StepVolumeCmd changes the volume on the surface at Slot by Delta, clamped.
type StepVolumeCmd struct {
	Slot  SlotID
	Delta int
}

// ToggleVolumeMuteCmd flips the volume mute on the surface at Slot.
type ToggleVolumeMuteCmd struct {
	Slot SlotID
}

// SetOffsetCmd sets one offset control, in the sign convention of Slot.
type SetOffsetCmd struct {
	Slot     SlotID
	Instance int
	Value    int
}

// SetGainCmd sets one gain control.
type SetGainCmd struct {
	Slot     SlotID
	Instance int
	Value    int
}

// SetGainMuteCmd mutes or unmutes one gain control.
type SetGainMuteCmd struct {
	Slot     SlotID
	Instance int
	Mute     bool
}

// ToggleGainMuteCmd flips one gain control's mute.
type ToggleGainMuteCmd struct {
	Slot     SlotID
	Instance int
}

func (ScanCmd) command()             {}
func (ConnectCmd) command()          {}
func (DiscoverCmd) command()         {}
func (DisconnectCmd) command()       {}
func (SetVolumeCmd) command()        {}
func (StepVolumeCmd) command()       {}
func (ToggleVolumeMuteCmd) command() {}
func (SetOffsetCmd) command()        {}
func (SetGainCmd) command()          {}
func (SetGainMuteCmd) command()      {}
func (ToggleGainMuteCmd) command()   {}
