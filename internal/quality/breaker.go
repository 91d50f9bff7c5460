package quality

import (
	"sync"
	"time"
)

// breaker is a two-state circuit breaker. After failureThreshold consecutive
// failures it opens and rejects calls until cooldown elapses. After that a
// single trial call at a time is let through, and successThreshold
// consecutive trial successes close it.
type breaker struct {
	mu               sync.Mutex
	open             bool
	trial            bool
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
}

func newBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 3
	}
	return &breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.trial || b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	b.trial = true
	return true
}

// recordFailure reports whether this failure opened the circuit.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	b.trial = false
	if b.open {
		b.openedAt = b.now()
		return false
	}
	if b.failures >= b.failureThreshold {
		b.open = true
		b.openedAt = b.now()
		return true
	}
	return false
}

// recordSuccess reports whether this success closed the circuit.
func (b *breaker) recordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		b.trial = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.open = false
			b.failures = 0
			b.successes = 0
			return true
		}
		return false
	}
	b.failures = 0
	return false
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
