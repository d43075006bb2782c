package cache

import (
	"errors"
	"time"
)

const (
	// DefaultSoftExpires is how long a response is served without revalidation.
	DefaultSoftExpires = 30 * time.Second

	// DefaultHardExpires is how long a response is kept at all.
	DefaultHardExpires = 48 * time.Hour
)

// Policy controls the lifetime of cached responses.
type Policy struct {
	SoftExpires time.Duration `yaml:"soft_expires"`
	HardExpires time.Duration `yaml:"hard_expires"`
}

// DefaultPolicy returns the 30s soft / 48h hard policy.
func DefaultPolicy() Policy {
	return Policy{SoftExpires: DefaultSoftExpires, HardExpires: DefaultHardExpires}
}

// Validate checks that both bounds are positive and soft does not exceed hard.
func (p Policy) Validate() error {
	switch {
	case p.SoftExpires <= 0:
		return errors.New("cache policy: soft expiry must be positive")
	case p.HardExpires <= 0:
		return errors.New("cache policy: hard expiry must be positive")
	case p.SoftExpires > p.HardExpires:
		return errors.New("cache policy: soft expiry exceeds hard expiry")
	}
	return nil
}
