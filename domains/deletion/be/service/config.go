package service

import (
	"fmt"
	"time"
)

// Config carries the deletion policy knobs. These are plain runtime
// parameters, parsed from the environment by the app entry points.
type Config struct {
	// GracePeriodDays is the delay between a deletion request and eligibility
	// for execution, during which cancellation is cheap.
	GracePeriodDays int
	// CoolingOffHours is the mandatory delay after a request before approval
	// takes effect, preventing a single rushed two-person approval.
	CoolingOffHours int
	// Environment gates unsafe settings; "production" forbids a zero
	// cooling-off window.
	Environment string
}

// DefaultConfig mirrors the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays: 30,
		CoolingOffHours: 24,
		Environment:     "production",
	}
}

// Validate rejects configurations that would weaken the compliance posture.
func (c Config) Validate() error {
	if c.GracePeriodDays < 0 {
		return fmt.Errorf("grace period days must not be negative")
	}
	if c.CoolingOffHours < 0 {
		return fmt.Errorf("cooling off hours must not be negative")
	}
	if c.CoolingOffHours == 0 && c.Environment == "production" {
		return fmt.Errorf("cooling off of 0 hours is not permitted in production")
	}
	return nil
}

// GracePeriod returns the grace period as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

// CoolingOff returns the cooling-off window as a duration.
func (c Config) CoolingOff() time.Duration {
	return time.Duration(c.CoolingOffHours) * time.Hour
}
