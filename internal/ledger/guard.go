package ledger

import "sync/atomic"

// Guard is a non-queuing mutual exclusion flag. A second Enter while the
// flag is held fails with ErrReentrant instead of waiting, so a callback
// that re-enters the ledger during an outbound transfer is refused.
type Guard struct {
	entered atomic.Bool
}

// Enter takes the flag and returns the func that gives it back.
func (g *Guard) Enter() (release func(), err error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	return func() { g.entered.Store(false) }, nil
}

// Held reports whether a guarded call is in flight.
func (g *Guard) Held() bool { return g.entered.Load() }
