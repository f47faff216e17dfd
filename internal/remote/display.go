package remote

import "fmt"

// ControlKind is the kind of an on-screen control.
type ControlKind int

const (
	KindVolume ControlKind = iota
	KindOffset
	KindGain
)

func (k ControlKind) String() string {
	switch k {
	case KindVolume:
		return "VCS"
	case KindOffset:
		return "VOCS"
	case KindGain:
		return "AICS"
	default:
		return fmt.Sprintf("ControlKind(%d)", int(k))
	}
}

// ControlID addresses one displayed control. For a stereo pair the slot is
// the pair's right slot.
type ControlID struct {
	Slot     SlotID
	Kind     ControlKind
	Instance int
}

func (c ControlID) String() string {
	if c.Kind == KindVolume {
		return fmt.Sprintf("%s@%d", c.Kind, c.Slot)
	}
	return fmt.Sprintf("%s-%d@%d", c.Kind, c.Instance, c.Slot)
}

// Layout describes one control surface to build.
type Layout struct {
	Slot    SlotID
	Label   string
	Volume  bool
	Offsets int
	Gains   int
}

// Display is the UI collaborator. The core only pushes text and numbers to
// it; it never reads anything back.
type Display interface {
	ShowMessage(text string)
	SetSliderValue(id ControlID, value int)
	SetMuteIcon(id ControlID, muted bool)
	BuildControls(layout Layout)
	RebuildConnectedView()
	RebuildDisconnectedView()
}
