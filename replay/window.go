// Package replay implements the sliding-window duplicate detector over
// 64-bit authenticated sequence numbers (spec §3.5/§4.8, C8). Grounded on
// _examples/original_source/Network/include/Secure/ReplayPacketProtection.hpp's
// ReplayGuard.
package replay

import (
	"math"

	"github.com/pkg/errors"
)

// emptySlot is the sentinel for a never-occupied buffer slot, the Go
// analogue of the original's std::numeric_limits<uint64_t>::max().
const emptySlot = math.MaxUint64

// Window rejects duplicated or stale authenticated sequence numbers for a
// single connection. The caller must call AlreadyReceived before
// decrypting and call AdvanceSequence only after a successful authentication —
// advancing on an unauthenticated sequence would let an attacker poison
// the window and cause genuine packets to be rejected as stale (spec
// §4.8).
type Window struct {
	mostRecentSequence uint64
	receivedPacket     []uint64
	size               int
}

// NewWindow allocates a window of the given size (buffer_size in spec
// §3.5), which must be at least as large as the AEAD pipeline's in-flight
// packet count.
func NewWindow(size int) (*Window, error) {
	if size <= 0 {
		return nil, errors.Errorf("replay: window size must be positive, got %d", size)
	}
	w := &Window{size: size}
	w.ResetAll()
	return w, nil
}

// ResetAll clears the window to its just-constructed state.
func (w *Window) ResetAll() {
	w.mostRecentSequence = 0
	w.receivedPacket = make([]uint64, w.size)
	for i := range w.receivedPacket {
		w.receivedPacket[i] = emptySlot
	}
}

// Reset is an alias for ResetAll kept for call-site symmetry with the
// per-connection reset methods elsewhere in this module.
func (w *Window) Reset() { w.ResetAll() }

// AlreadyReceived reports whether sequence has already been accepted, or
// is too stale to ever be accepted, per the invariant in spec §3.5: a
// sequence is accepted iff sequence+buffer_size > most_recent_sequence AND
// its indexed slot is either empty or holds a value strictly less than
// sequence.
func (w *Window) AlreadyReceived(sequence uint64) bool {
	if sequence+uint64(w.size) <= w.mostRecentSequence {
		return true
	}

	index := sequence % uint64(w.size)
	slot := w.receivedPacket[index]
	if slot == emptySlot {
		return false
	}
	return slot >= sequence
}

// AdvanceSequence records sequence as received and raises
// most_recent_sequence if sequence is newer.
func (w *Window) AdvanceSequence(sequence uint64) {
	if sequence > w.mostRecentSequence {
		w.mostRecentSequence = sequence
	}
	w.receivedPacket[sequence%uint64(w.size)] = sequence
}
