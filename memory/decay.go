package memory

import (
	"math"
	"time"
)

// DecayModel turns memory age into a recency weight. It is a pure function
// of age; any decay value written to storage is a reporting snapshot and
// must never be trusted over a live recomputation.
type DecayModel struct {
	// HalfLife is the age at which the recency weight falls to ~37% (1/e).
	HalfLife time.Duration `yaml:"half_life" json:"half_life"`

	// AccessLogDivisor is the constant C in
	// accessFrequency = min(1, log1p(accessCount)/C).
	AccessLogDivisor float64 `yaml:"access_log_divisor" json:"access_log_divisor"`
}

// DefaultDecayModel returns the production decay parameters.
func DefaultDecayModel() DecayModel {
	return DecayModel{
		HalfLife:         90 * 24 * time.Hour,
		AccessLogDivisor: 5.0,
	}
}

// Recency maps an age to a weight in (0,1]: exp(-age/halfLife).
// Negative ages (clock skew) clamp to 1.
func (d DecayModel) Recency(age time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	halfLife := d.HalfLife
	if halfLife <= 0 {
		halfLife = 90 * 24 * time.Hour
	}
	return math.Exp(-age.Seconds() / halfLife.Seconds())
}

// RecencyAt computes the recency weight of a memory created at createdAt,
// evaluated at now.
func (d DecayModel) RecencyAt(createdAt, now time.Time) float64 {
	return d.Recency(now.Sub(createdAt))
}

// AccessFrequency maps an access count to a weight in [0,1] on a log scale,
// so repeat access has diminishing returns.
func (d DecayModel) AccessFrequency(accessCount int64) float64 {
	if accessCount <= 0 {
		return 0
	}
	div := d.AccessLogDivisor
	if div <= 0 {
		div = 5.0
	}
	return math.Min(1.0, math.Log1p(float64(accessCount))/div)
}
