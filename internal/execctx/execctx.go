// Package execctx manages the scratch memory shared by the primary and the
// overlay decoder. Only one decoder runs at a time; the other one is parked
// with its workspace saved until the owner swaps back.
package execctx

import (
	"sync"
)

// Owner identifies which decoder holds the arena
type Owner int32

const (
	OwnerNone Owner = iota
	OwnerPrimary
	OwnerOverlay
)

func (o Owner) String() string {
	switch o {
	case OwnerPrimary:
		return "primary"
	case OwnerOverlay:
		return "overlay"
	default:
		return "none"
	}
}

// Context is one decoder's saved workspace
type Context struct {
	Code []byte
	Data []byte
}

// Arena is the shared scratch memory plus the mutex guarding it
type Arena struct {
	mu   sync.Mutex
	cond *sync.Cond

	held        bool
	owner       Owner
	interrupted bool
	swaps       uint64

	code  []byte
	data  []byte
	saved map[Owner]*Context
}

// NewArena allocates the shared code and data regions
func NewArena(codeSize, dataSize int) *Arena {
	a := &Arena{
		code: make([]byte, codeSize),
		data: make([]byte, dataSize),
		saved: map[Owner]*Context{
			OwnerPrimary: {Code: make([]byte, codeSize), Data: make([]byte, dataSize)},
			OwnerOverlay: {Code: make([]byte, codeSize), Data: make([]byte, dataSize)},
		},
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Code returns the shared code region. Valid only while the caller owns the arena.
func (a *Arena) Code() []byte {
	return a.code
}

// Data returns the shared data region. Valid only while the caller owns the arena.
func (a *Arena) Data() []byte {
	return a.data
}

// Owner returns the current owner tag
func (a *Arena) Owner() Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Swaps returns how many completed swaps the arena has seen
func (a *Arena) Swaps() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.swaps
}

// Acquire blocks until the arena is free and takes it for me. It returns
// false once the arena has been interrupted.
func (a *Arena) Acquire(me Owner) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.held && !a.interrupted {
		a.cond.Wait()
	}
	if a.interrupted {
		return false
	}
	a.held = true
	a.owner = me
	return true
}

// TryAcquire takes the arena for me if it is free
func (a *Arena) TryAcquire(me Owner) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.held {
		return false
	}
	a.held = true
	a.owner = me
	return true
}

// Release frees the arena if me holds it
func (a *Arena) Release(me Owner) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.held || a.owner != me {
		return
	}
	a.held = false
	a.cond.Broadcast()
}

// Swap hands the arena to the other decoder and blocks until it comes back.
// The caller's workspace is saved before release and restored after
// reacquiring, so the regions look untouched to it. Swap returns true once the
// other side has taken and released the arena at least once.
//
// If abort reports true before the other side has taken the arena, Swap
// takes it back, restores the workspace and returns false with the caller
// still owning the arena. Once taken, only an interrupt ends the wait. On
// interrupt Swap returns false and the caller no longer owns the arena.
func (a *Arena) Swap(me Owner, abort func() bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.held || a.owner != me {
		return false
	}

	saved := a.saved[me]
	copy(saved.Code, a.code)
	copy(saved.Data, a.data)

	a.held = false
	a.cond.Broadcast()

	// wait for the other side to take the arena
	for a.owner == me {
		if a.interrupted {
			return false
		}
		if abort != nil && abort() {
			a.held = true
			a.restore(saved)
			return false
		}
		a.cond.Wait()
	}
	// and to give it back
	for a.held {
		if a.interrupted {
			return false
		}
		a.cond.Wait()
	}

	a.held = true
	a.owner = me
	a.swaps++
	a.restore(saved)
	return true
}

func (a *Arena) restore(saved *Context) {
	copy(a.code, saved.Code)
	copy(a.data, saved.Data)
}

// Wake re-evaluates abort conditions of goroutines blocked in Swap
func (a *Arena) Wake() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cond.Broadcast()
}

// Interrupt makes every pending and future Swap and Acquire return false.
// Used on shutdown.
func (a *Arena) Interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interrupted = true
	a.cond.Broadcast()
}
