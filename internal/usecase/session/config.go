package session

import "fmt"

// Config holds the rule thresholds for one trading session. Validation is
// eager: a Session cannot be built from an invalid Config.
type Config struct {
	// AskDropThreshold is the minimum relative shrink of the best-ask queue
	// between adjacent minute buckets for the sell1_drop rule to qualify.
	AskDropThreshold float64
	// MinAbsDeltaAsk gates sell1_drop on an absolute queue shrink so tiny
	// queues cannot qualify on ratio alone.
	MinAbsDeltaAsk int64
	// ConfirmMinutes is the number of consecutive qualifying minutes required
	// before sell1_drop may fire.
	ConfirmMinutes int
}

// Validate rejects threshold combinations that can never produce a meaningful
// signal.
func (c Config) Validate() error {
	if c.AskDropThreshold <= 0 || c.AskDropThreshold >= 1 {
		return fmt.Errorf("ask drop threshold must be in (0, 1), got %v", c.AskDropThreshold)
	}
	if c.MinAbsDeltaAsk < 0 {
		return fmt.Errorf("min abs delta ask must be >= 0, got %d", c.MinAbsDeltaAsk)
	}
	if c.ConfirmMinutes < 1 || c.ConfirmMinutes > 20 {
		return fmt.Errorf("confirm minutes must be in [1, 20], got %d", c.ConfirmMinutes)
	}
	return nil
}
