package controller

import (
	"sync"
	"sync/atomic"
)

// session is the immutable auth record swapped atomically on every
// successful login: cookie token plus CSRF token (spec.md §4.1/§6).
type session struct {
	token     string
	csrfToken string
}

// authBox holds the current session behind an atomic pointer swap so
// concurrent readers never block; a mutex guards only the login
// side-effect, coalescing concurrent refreshes into a single request
// (spec.md §4.1, §9 "Shared mutable auth state").
type authBox struct {
	mu      sync.Mutex
	current atomicSession
}

func newAuthBox() *authBox {
	b := &authBox{}
	b.current.store(session{})
	return b
}

// load returns the current session without blocking on the login mutex.
func (b *authBox) load() session {
	return b.current.load()
}

// store atomically replaces the session after a successful login.
func (b *authBox) store(s session) {
	b.current.store(s)
}

// atomicSession is a tiny sync/atomic.Value box, so loads never wait on a
// lock. sync/atomic.Pointer would also work, but atomic.Value keeps this
// package free of generics for parity with the teacher's pre-generics
// style elsewhere in the codebase.
type atomicSession struct {
	v atomic.Value // always holds a session
}

func (a *atomicSession) load() session {
	s, _ := a.v.Load().(session)
	return s
}

func (a *atomicSession) store(s session) {
	a.v.Store(s)
}
