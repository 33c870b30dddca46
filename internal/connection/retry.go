package connection

import "time"

// RetryBudget bounds automatic reconnect attempts. It is reset whenever
// a connection becomes ready.
type RetryBudget struct {
	Attempts int           `json:"attempts"`
	Max      int           `json:"max"`
	Interval time.Duration `json:"interval"`
}

// Exhausted reports whether no automatic attempts remain.
func (b RetryBudget) Exhausted() bool {
	return b.Attempts >= b.Max
}

// Spend consumes one attempt. It returns false once exhausted.
func (b *RetryBudget) Spend() bool {
	if b.Exhausted() {
		return false
	}
	b.Attempts++
	return true
}

func (b *RetryBudget) Reset() {
	b.Attempts = 0
}
