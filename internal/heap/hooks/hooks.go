// Package hooks carries bulk memory-state notifications from the
// allocator into the diagnostic engine.
//
// The allocator calls the notifier when it reserves address space from
// the operating system or returns address space to it, so an external
// verifier (here, the shadow table) can stay synchronized with events
// coarser than individual blocks. The capability is an explicit value
// passed down at construction time, never ambient global state, and the
// no-op default is trivially constructible.
package hooks

import "github.com/kolkov/heapdiag/internal/heap/shadow"

// Notifier receives bulk reservation and release events.
type Notifier interface {
	// OnReserved reports that [addr, addr+length) was reserved from the
	// OS for the allocator's use.
	OnReserved(addr, length uint64)

	// OnReleased reports that [addr, addr+length) was returned to the
	// OS and may now be mapped by anything in the process.
	OnReleased(addr, length uint64)
}

// NullNotifier ignores all events. It is the valid default when no
// verifier is attached.
type NullNotifier struct{}

// OnReserved implements Notifier.
func (NullNotifier) OnReserved(addr, length uint64) {}

// OnReleased implements Notifier.
func (NullNotifier) OnReleased(addr, length uint64) {}

// ShadowNotifier keeps a shadow table in lock-step with bulk events:
// reserved ranges are poisoned as allocator-owned, released ranges as
// OS-owned. Ranges the table does not cover yet are covered on first
// reservation.
type ShadowNotifier struct {
	Shadow *shadow.Shadow
}

// OnReserved implements Notifier.
func (n *ShadowNotifier) OnReserved(addr, length uint64) {
	if length == 0 {
		return
	}
	if _, covered := n.Shadow.MarkerAt(addr); !covered {
		n.Shadow.Cover(addr, length, shadow.MarkerReserved)
		return
	}
	n.Shadow.Poison(addr, length, shadow.MarkerReserved)
}

// OnReleased implements Notifier.
func (n *ShadowNotifier) OnReleased(addr, length uint64) {
	n.Shadow.Poison(addr, length, shadow.MarkerMemory)
}
