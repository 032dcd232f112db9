package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecayModel_Recency(t *testing.T) {
	t.Parallel()

	d := DefaultDecayModel()

	assert.Equal(t, 1.0, d.Recency(0))
	assert.Equal(t, 1.0, d.Recency(-time.Hour))

	// At exactly one half-life the weight is 1/e.
	got := d.Recency(d.HalfLife)
	assert.InDelta(t, math.Exp(-1), got, 1e-9)

	// Strictly positive for any finite age.
	assert.Greater(t, d.Recency(10*365*24*time.Hour), 0.0)
}

func TestDecayModel_RecencyAt(t *testing.T) {
	t.Parallel()

	d := DefaultDecayModel()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	newer := d.RecencyAt(now.Add(-24*time.Hour), now)
	older := d.RecencyAt(now.Add(-30*24*time.Hour), now)
	require.Greater(t, newer, older)
}

// For any two memories with equal other scoring inputs, the more recently
// created one must have a strictly higher recency weight.
func TestDecayModel_RecencyMonotonic(t *testing.T) {
	t.Parallel()

	d := DefaultDecayModel()
	rapid.Check(t, func(rt *rapid.T) {
		youngSecs := rapid.Int64Range(0, 3600*24*365*5).Draw(rt, "young")
		delta := rapid.Int64Range(1, 3600*24*365).Draw(rt, "delta")

		young := time.Duration(youngSecs) * time.Second
		old := young + time.Duration(delta)*time.Second

		if d.Recency(young) <= d.Recency(old) {
			rt.Fatalf("recency(%v)=%v not greater than recency(%v)=%v",
				young, d.Recency(young), old, d.Recency(old))
		}
	})
}

func TestDecayModel_AccessFrequency(t *testing.T) {
	t.Parallel()

	d := DefaultDecayModel()

	assert.Equal(t, 0.0, d.AccessFrequency(0))
	assert.Equal(t, 0.0, d.AccessFrequency(-3))

	one := d.AccessFrequency(1)
	ten := d.AccessFrequency(10)
	assert.Greater(t, ten, one)

	// Saturates at 1 for very hot memories.
	assert.Equal(t, 1.0, d.AccessFrequency(1_000_000))
}
