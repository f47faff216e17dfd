package remote

import (
	"errors"
	"testing"

	"github.com/chaz8081/hiremote/internal/ble"
)

func newTestCascade(t *testing.T, n int) (*Cascade, *Registry, *fakeTransport, *State) {
	t.Helper()
	reg, err := NewRegistry(testTargets(n))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	for i, s := range reg.Slots() {
		s.Address = testAddress(i)
	}
	tr := &fakeTransport{}
	st := &State{}
	return NewCascade(tr, reg, st), reg, tr, st
}

// markConnected puts slots straight into the connected state with handle id+1
// and moves the fake's handle counter past them.
func markConnected(reg *Registry, tr *fakeTransport, ids ...SlotID) {
	for _, id := range ids {
		s, _ := reg.Get(id)
		s.Handle = handle(int(id))
		s.State = Connected
		if s.Handle > tr.next {
			tr.next = s.Handle
		}
	}
}

func TestConnectAllCascadesInOrder(t *testing.T) {
	c, reg, tr, st := newTestCascade(t, 3)

	s, err := c.ConnectAll()
	if err != nil {
		t.Fatalf("ConnectAll() error = %v", err)
	}
	if s.ID != 0 || s.State != Connecting {
		t.Fatalf("ConnectAll() started %+v, want slot 0 connecting", s)
	}

	for i := 0; i < 3; i++ {
		step, err := c.HandleConnected(ble.Connected{Handle: handle(i)})
		if err != nil {
			t.Fatalf("HandleConnected(%d) error = %v", i, err)
		}
		if step.Slot.ID != SlotID(i) {
			t.Errorf("step slot = %d, want %d", step.Slot.ID, i)
		}
		last := i == 2
		if step.Done != last {
			t.Errorf("step %d Done = %v, want %v", i, step.Done, last)
		}
		if !last && (step.Next == nil || step.Next.ID != SlotID(i+1)) {
			t.Errorf("step %d Next = %+v, want slot %d", i, step.Next, i+1)
		}
	}
	if !reg.AllConnected() {
		t.Error("not all slots connected")
	}
	if st.ConnectAll {
		t.Error("ConnectAll still set after the cascade finished")
	}
	want := []string{testAddress(0), testAddress(1), testAddress(2)}
	for i, addr := range want {
		if tr.connects[i] != addr {
			t.Errorf("connect %d to %q, want %q", i, tr.connects[i], addr)
		}
	}
}

func TestConnectAlreadyConnectedMovesToNext(t *testing.T) {
	c, reg, tr, _ := newTestCascade(t, 2)
	markConnected(reg, tr, 0)

	s, err := c.Connect(0)
	if err != nil {
		t.Fatalf("Connect(0) error = %v", err)
	}
	if s == nil || s.ID != 1 {
		t.Fatalf("Connect(0) started %+v, want slot 1", s)
	}
	if len(tr.connects) != 1 || tr.connects[0] != testAddress(1) {
		t.Errorf("connects = %v, want only slot 1's address", tr.connects)
	}
}

func TestConnectWrapsAround(t *testing.T) {
	c, reg, tr, _ := newTestCascade(t, 3)
	markConnected(reg, tr, 1, 2)

	s, err := c.Connect(1)
	if err != nil {
		t.Fatalf("Connect(1) error = %v", err)
	}
	if s == nil || s.ID != 0 {
		t.Fatalf("Connect(1) started %+v, want slot 0", s)
	}
}

func TestConnectNothingLeft(t *testing.T) {
	c, reg, tr, st := newTestCascade(t, 2)
	markConnected(reg, tr, 0, 1)
	st.ConnectAll = true

	s, err := c.Connect(0)
	if err != nil || s != nil {
		t.Fatalf("Connect(0) = %+v, %v; want nil, nil", s, err)
	}
	if st.ConnectAll {
		t.Error("ConnectAll still set with every slot connected")
	}
}

func TestConnectErrors(t *testing.T) {
	c, reg, _, st := newTestCascade(t, 2)

	if _, err := c.Connect(5); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Connect(5) error = %v, want ErrInvalidSlot", err)
	}

	s1, _ := reg.Get(1)
	s1.Address = ""
	st.ConnectAll = true
	_, err := c.Connect(1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Connect() on unfound slot error = %v, want ErrNotFound", err)
	}
	if st.ConnectAll {
		t.Error("ConnectAll still set after ErrNotFound")
	}

	if _, err := c.Connect(0); err != nil {
		t.Fatalf("Connect(0) error = %v", err)
	}
	if _, err := c.Connect(0); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("Connect(0) while connecting error = %v, want ErrAlreadyInProgress", err)
	}

	c2, _, tr2, _ := newTestCascade(t, 1)
	tr2.connectErr = errors.New("busy")
	_, err = c2.Connect(0)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Connect() with failing stack error = %v, want ErrTransport", err)
	}
	var se *SlotError
	if !errors.As(err, &se) || se.Slot != 0 {
		t.Errorf("error %v does not name slot 0", err)
	}
}

func TestConnectFailedAbortsCascade(t *testing.T) {
	c, reg, _, st := newTestCascade(t, 2)
	if _, err := c.ConnectAll(); err != nil {
		t.Fatalf("ConnectAll() error = %v", err)
	}

	step, err := c.HandleConnectFailed(ble.ConnectFailed{Handle: handle(0), Code: 62})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("HandleConnectFailed() error = %v, want ErrTransport", err)
	}
	var status ble.StatusError
	if !errors.As(err, &status) || status != 62 {
		t.Errorf("error %v does not carry status 62", err)
	}
	if step.Slot.State != Unconnected || step.Slot.Handle != 0 {
		t.Errorf("slot after failure = %+v, want unconnected without handle", step.Slot)
	}
	if st.ConnectAll {
		t.Error("ConnectAll still set after connect failure")
	}
	s1, _ := reg.Get(1)
	if s1.State != Unconnected {
		t.Errorf("slot 1 state = %v, cascade should not have moved on", s1.State)
	}
}

func TestDisconnectLeavesOtherSlotsAlone(t *testing.T) {
	c, reg, tr, st := newTestCascade(t, 2)
	markConnected(reg, tr, 0, 1)
	st.ConnectAll = true
	st.DiscoverAll = true
	st.AllDetected = true

	step, err := c.HandleDisconnected(ble.Disconnected{Handle: handle(0), Reason: 0x13})
	if err != nil {
		t.Fatalf("HandleDisconnected() error = %v", err)
	}
	if step.Slot.ID != 0 || step.Slot.State != Unconnected {
		t.Errorf("slot 0 after disconnect = %+v", step.Slot)
	}
	if step.Slot.Address != testAddress(0) {
		t.Error("disconnect dropped the slot's address")
	}
	s1, _ := reg.Get(1)
	if s1.State != Connected {
		t.Errorf("slot 1 state = %v, want connected", s1.State)
	}
	if st.ConnectAll || st.DiscoverAll || st.AllDetected {
		t.Errorf("flags after disconnect = %+v, want all cleared", *st)
	}

	if _, err := c.HandleDisconnected(ble.Disconnected{Handle: handle(0)}); !errors.Is(err, errUnknownHandle) {
		t.Errorf("second Disconnected error = %v, want errUnknownHandle", err)
	}
}

func TestDisconnectRejectedKeepsLink(t *testing.T) {
	c, reg, tr, _ := newTestCascade(t, 2)
	markConnected(reg, tr, 0, 1)
	s0, _ := reg.Get(0)
	s0.Discovered = true

	if err := c.Disconnect(0); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	s, err := c.HandleDisconnectFailed(handle(0))
	if err != nil {
		t.Fatalf("HandleDisconnectFailed() error = %v", err)
	}
	if s.ID != 0 || s.State != Connected || !s.Discovered {
		t.Errorf("slot after rejected disconnect = %+v, want connected and discovered", s)
	}

	if err := c.DisconnectAll(); err != nil {
		t.Fatalf("DisconnectAll() error = %v", err)
	}
	if len(tr.disconnects) != 3 || tr.disconnects[1] != handle(0) {
		t.Errorf("disconnects = %v, want a retry for handle %d", tr.disconnects, handle(0))
	}

	if _, err := c.HandleDisconnectFailed(99); !errors.Is(err, errUnknownHandle) {
		t.Errorf("unknown handle error = %v, want errUnknownHandle", err)
	}
}

func TestDisconnectAll(t *testing.T) {
	c, reg, tr, st := newTestCascade(t, 3)
	markConnected(reg, tr, 0, 2)
	st.ConnectAll = true

	if err := c.DisconnectAll(); err != nil {
		t.Fatalf("DisconnectAll() error = %v", err)
	}
	if len(tr.disconnects) != 2 {
		t.Errorf("Disconnect called %d times, want 2", len(tr.disconnects))
	}
	s0, _ := reg.Get(0)
	if s0.State != Disconnecting {
		t.Errorf("slot 0 state = %v, want disconnecting", s0.State)
	}
	if st.ConnectAll {
		t.Error("ConnectAll still set")
	}
	if err := c.Disconnect(1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Disconnect(1) error = %v, want ErrNotConnected", err)
	}
}

func TestDiscoverRequiresConnection(t *testing.T) {
	c, _, tr, st := newTestCascade(t, 2)
	st.DiscoverAll = true

	_, err := c.Discover(0)
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Discover() on unconnected slot error = %v, want ErrNotConnected", err)
	}
	if len(tr.discovers) != 0 {
		t.Error("discovery requested on an unconnected slot")
	}
	if st.DiscoverAll {
		t.Error("DiscoverAll still set")
	}
}

func TestDiscoverAllCascades(t *testing.T) {
	c, reg, tr, st := newTestCascade(t, 2)
	markConnected(reg, tr, 0, 1)

	s, err := c.DiscoverAll()
	if err != nil {
		t.Fatalf("DiscoverAll() error = %v", err)
	}
	if s.ID != 0 || !s.Discovering {
		t.Fatalf("DiscoverAll() started %+v", s)
	}
	if _, err := c.Discover(0); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("Discover(0) while discovering error = %v, want ErrAlreadyInProgress", err)
	}

	step, err := c.HandleDiscoverComplete(ble.DiscoverComplete{Handle: handle(0), Offsets: 2, Gains: 1, Volume: true})
	if err != nil {
		t.Fatalf("HandleDiscoverComplete(0) error = %v", err)
	}
	if step.Done || step.Next == nil || step.Next.ID != 1 {
		t.Fatalf("first step = %+v, want next slot 1", step)
	}
	s0, _ := reg.Get(0)
	if len(s0.Controls.Offsets) != 2 || len(s0.Controls.Gains) != 1 || !s0.Controls.HasVolume {
		t.Errorf("slot 0 topology = %+v", s0.Controls)
	}

	step, err = c.HandleDiscoverComplete(ble.DiscoverComplete{Handle: handle(1), Offsets: 1})
	if err != nil {
		t.Fatalf("HandleDiscoverComplete(1) error = %v", err)
	}
	if !step.Done {
		t.Error("cascade not done after the last slot")
	}
	if st.DiscoverAll {
		t.Error("DiscoverAll still set")
	}
	if len(tr.discovers) != 2 {
		t.Errorf("DiscoverControls called %d times, want 2", len(tr.discovers))
	}
}

func TestDiscoverAlreadyDiscoveredMovesOn(t *testing.T) {
	c, reg, tr, _ := newTestCascade(t, 2)
	markConnected(reg, tr, 0, 1)
	s0, _ := reg.Get(0)
	s0.Discovered = true

	s, err := c.Discover(0)
	if err != nil {
		t.Fatalf("Discover(0) error = %v", err)
	}
	if s == nil || s.ID != 1 {
		t.Fatalf("Discover(0) started %+v, want slot 1", s)
	}
}

func TestDiscoverCompleteWhileDisconnectingDropped(t *testing.T) {
	c, reg, tr, _ := newTestCascade(t, 1)
	markConnected(reg, tr, 0)
	if _, err := c.Discover(0); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if err := c.Disconnect(0); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	step, err := c.HandleDiscoverComplete(ble.DiscoverComplete{Handle: handle(0), Offsets: 2, Volume: true})
	if err != nil {
		t.Fatalf("HandleDiscoverComplete() error = %v", err)
	}
	if step.Done || step.Next != nil {
		t.Errorf("step = %+v, want nothing to follow", step)
	}
	s, _ := reg.Get(0)
	if s.Discovered || s.Discovering || len(s.Controls.Offsets) != 0 {
		t.Errorf("disconnecting slot took a topology: %+v", s)
	}
}

func TestDiscoverFailure(t *testing.T) {
	c, reg, tr, st := newTestCascade(t, 2)
	markConnected(reg, tr, 0, 1)
	if _, err := c.DiscoverAll(); err != nil {
		t.Fatalf("DiscoverAll() error = %v", err)
	}

	_, err := c.HandleDiscoverComplete(ble.DiscoverComplete{Handle: handle(0), Err: errors.New("att timeout")})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	s0, _ := reg.Get(0)
	if s0.Discovered || s0.Discovering {
		t.Errorf("slot 0 after failed discovery = %+v", s0)
	}
	if st.DiscoverAll {
		t.Error("DiscoverAll still set")
	}
	if len(tr.discovers) != 1 {
		t.Errorf("cascade moved on after a failure: %d requests", len(tr.discovers))
	}
}
