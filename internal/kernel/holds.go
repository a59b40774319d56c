package kernel

import (
	"context"
	"sync"
)

// AcquireHold increments the process-wide keepalive counter. The returned
// release function is idempotent: a second call never double-decrements.
// The 0->1 transition emits Runtime.Blocked and the N->0 transition emits
// Runtime.Unblocked and wakes every pending WaitForIdle exactly once.
func (k *Kernel) AcquireHold(reason string) (release func()) {
	k.holdMu.Lock()
	k.holds++
	count := k.holds
	k.holdMu.Unlock()

	k.logger.Debug("Hold acquired.", "reason", reason, "holds", count)
	if count == 1 {
		if err := k.bus.Emit(context.Background(), EventBlocked, reason); err != nil {
			k.logger.Error("Runtime.Blocked emission failed.", "error", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.holdMu.Lock()
			k.holds--
			idle := k.holds == 0
			var waiters []chan struct{}
			if idle {
				waiters = k.waiters
				k.waiters = nil
			}
			k.holdMu.Unlock()

			k.logger.Debug("Hold released.", "reason", reason)
			if idle {
				if err := k.bus.Emit(context.Background(), EventUnblocked, reason); err != nil {
					k.logger.Error("Runtime.Unblocked emission failed.", "error", err)
				}
				for _, w := range waiters {
					close(w)
				}
			}
		})
	}
}

// Holds reports the current keepalive count.
func (k *Kernel) Holds() int {
	k.holdMu.Lock()
	defer k.holdMu.Unlock()
	return k.holds
}

// WaitForIdle blocks until the hold counter reaches zero. It returns
// immediately when the counter is already zero.
func (k *Kernel) WaitForIdle(ctx context.Context) error {
	k.holdMu.Lock()
	if k.holds == 0 {
		k.holdMu.Unlock()
		return nil
	}
	w := make(chan struct{})
	k.waiters = append(k.waiters, w)
	k.holdMu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
