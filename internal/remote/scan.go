package remote

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/hiremote/internal/ble"
)

// MatchMode selects how advertised names are compared with target names.
type MatchMode int

const (
	// MatchExact requires a case-sensitive equal name.
	MatchExact MatchMode = iota
	// MatchSubstring accepts a case-insensitive substring of the advertised name.
	MatchSubstring
)

func (m MatchMode) matches(target, advertised string) bool {
	switch m {
	case MatchSubstring:
		return strings.Contains(strings.ToLower(advertised), strings.ToLower(target))
	default:
		return advertised == target
	}
}

// AfterFunc schedules f after d and returns a function that cancels it.
// It exists so tests can drive timeouts by hand.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// ScanResult is the outcome of feeding one advertisement to a session.
type ScanResult struct {
	Found     *Slot
	Completed bool
}

// ScanSession drives device discovery for the registry's targets.
type ScanSession struct {
	transport ble.Transport
	registry  *Registry
	match     MatchMode
	timeout   time.Duration
	afterFunc AfterFunc
	// onTimeout delivers an expiry back into the event loop with the
	// generation it was armed for.
	onTimeout func(gen uint64)

	active bool
	gen    uint64
	stop   func() bool
}

// NewScanSession creates an idle session. onTimeout is called from the timer
// goroutine and must only hand the generation to the event loop.
func NewScanSession(t ble.Transport, r *Registry, match MatchMode, timeout time.Duration, onTimeout func(gen uint64)) *ScanSession {
	if timeout <= 0 {
		timeout = ble.DefaultScanTimeout
	}
	return &ScanSession{
		transport: t,
		registry:  r,
		match:     match,
		timeout:   timeout,
		afterFunc: realAfterFunc,
		onTimeout: onTimeout,
	}
}

// Active reports whether a scan is running.
func (s *ScanSession) Active() bool {
	return s.active
}

// Generation returns the id of the current (or last) scan.
func (s *ScanSession) Generation() uint64 {
	return s.gen
}

// Start begins a new scan. It returns ErrAlreadyInProgress if one is running.
func (s *ScanSession) Start() error {
	if s.active {
		return fmt.Errorf("remote: start scan: %w", ErrAlreadyInProgress)
	}
	s.registry.ResetFound()
	if err := s.transport.StartScan(ble.FastScanParams(s.timeout)); err != nil {
		return fmt.Errorf("remote: start scan: %w: %w", ErrTransport, err)
	}
	s.active = true
	s.gen++
	gen := s.gen
	s.stop = s.afterFunc(s.timeout, func() { s.onTimeout(gen) })
	slog.Info("[SCAN] started", "generation", gen, "timeout", s.timeout)
	return nil
}

// Force stops any running scan and starts a fresh one.
func (s *ScanSession) Force() error {
	if s.active {
		if err := s.Stop(); err != nil {
			return err
		}
	}
	return s.Start()
}

// Stop ends the running scan and cancels its timeout. Stopping an idle
// session is a no-op.
func (s *ScanSession) Stop() error {
	if !s.active {
		return nil
	}
	s.finish()
	if err := s.transport.StopScan(); err != nil {
		return fmt.Errorf("remote: stop scan: %w: %w", ErrTransport, err)
	}
	return nil
}

func (s *ScanSession) finish() {
	s.active = false
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// HandleAdvertisement matches one advertisement against the targets not yet
// found. A slot is found at most once per session, and an address already
// recorded for another found slot is not reused. When every slot is
// accounted for the scan is stopped and the result is marked Completed.
func (s *ScanSession) HandleAdvertisement(adv ble.Advertisement) ScanResult {
	var res ScanResult
	if !s.active || adv.Name == "" {
		return res
	}
	if s.claimed(adv.Address) {
		return res
	}
	for _, slot := range s.registry.Slots() {
		if slot.Found || slot.State != Unconnected {
			continue
		}
		if !s.match.matches(slot.Name, adv.Name) {
			continue
		}
		slot.Found = true
		slot.Address = adv.Address
		res.Found = slot
		slog.Info("[SCAN] device found", "slot", slot.ID, "name", adv.Name, "address", adv.Address)
		break
	}
	if res.Found != nil && s.registry.AllFound() {
		if err := s.Stop(); err != nil {
			slog.Warn("[SCAN] stop after completion failed", "error", err)
		}
		res.Completed = true
	}
	return res
}

// claimed reports whether address already belongs to a found or connected
// slot; devices keep advertising after they are found.
func (s *ScanSession) claimed(address string) bool {
	for _, slot := range s.registry.Slots() {
		if (slot.Found || slot.State != Unconnected) && slot.Address == address {
			return true
		}
	}
	return false
}

// HandleTimeout processes a timeout for generation gen. Zero means the stack
// timed out on its own and applies to whatever scan is running. It returns
// false for stale timeouts, which are ignored.
func (s *ScanSession) HandleTimeout(gen uint64) bool {
	if !s.active {
		return false
	}
	if gen != 0 && gen != s.gen {
		slog.Debug("[SCAN] stale timeout ignored", "generation", gen, "current", s.gen)
		return false
	}
	s.finish()
	if err := s.transport.StopScan(); err != nil {
		slog.Warn("[SCAN] stop after timeout failed", "error", err)
	}
	slog.Info("[SCAN] timed out", "generation", s.gen)
	return true
}
