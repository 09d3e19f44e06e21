package sync

import "github.com/hxyulin/hadron-sub000/kernel"

type globalState uint8

const (
	uninitialized globalState = iota
	initialized
)

// Global is a process-wide slot that starts out empty, is filled exactly once
// by Init and from then on is only reachable through a Handle that serializes
// access with a Spinlock.
//
// The zero value (with Name set) is ready to use, so a Global can be declared
// as a package-level variable without running any initializer code.
type Global[T any] struct {
	// Name is used as the module tag of the errors raised by this slot.
	Name string

	lock  Spinlock
	state globalState
	value T

	// err is populated before panicking so that reporting a misuse does
	// not require a memory allocation.
	err kernel.Error
}

// Handle grants locked access to the value stored in an initialized Global.
type Handle[T any] struct {
	g *Global[T]
}

// Init stores v in the slot and returns a handle to it. Calling Init on an
// already initialized slot panics.
func (g *Global[T]) Init(v T) Handle[T] {
	g.lock.Acquire()
	if g.state == initialized {
		g.lock.Release()
		g.fail("initialized twice")
	}

	g.value = v
	g.state = initialized
	g.lock.Release()

	return Handle[T]{g: g}
}

// Initialized returns true if Init has been invoked for this slot.
func (g *Global[T]) Initialized() bool {
	g.lock.Acquire()
	defer g.lock.Release()
	return g.state == initialized
}

// Handle returns a handle to the stored value. It panics if the slot has not
// been initialized yet.
func (g *Global[T]) Handle() Handle[T] {
	if !g.Initialized() {
		g.fail("accessed before initialization")
	}

	return Handle[T]{g: g}
}

func (g *Global[T]) fail(msg string) {
	g.err = kernel.Error{Module: g.Name, Message: msg}
	panic(&g.err)
}

// Lock acquires the slot lock and returns a pointer to the stored value. The
// pointer must not be used after calling Unlock.
func (h Handle[T]) Lock() *T {
	h.g.lock.Acquire()
	return &h.g.value
}

// Unlock releases the slot lock acquired by Lock.
func (h Handle[T]) Unlock() {
	h.g.lock.Release()
}
