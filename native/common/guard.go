package common

import (
	"errors"
	"sync/atomic"
)

var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyGuard rejects nested entry into a guarded section. It never
// blocks: a second caller fails immediately with ErrReentrantCall.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter acquires the guard. The returned release function must be called on
// every exit path; calling it more than once is a no-op.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			g.entered.Store(false)
		}
	}, nil
}

// Held reports whether a guarded section is currently executing.
func (g *ReentrancyGuard) Held() bool {
	return g.entered.Load()
}

// Guard runs fn while holding g.
func Guard(g *ReentrancyGuard, fn func() error) error {
	release, err := g.Enter()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
