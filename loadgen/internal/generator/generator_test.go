package generator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 24, 14, 0, 0, 0, time.UTC)

func decode(t *testing.T, m Message) Payload {
	t.Helper()
	var p Payload
	require.NoError(t, json.Unmarshal(m.Body, &p))
	return p
}

func TestNext_RoundRobin(t *testing.T) {
	g := New(Config{Cars: 3, Seed: 1, SampleInterval: 500 * time.Millisecond, Start: start})

	var ids []string
	for i := 0; i < 6; i++ {
		m := g.Next()
		assert.Equal(t, i%3, m.Car)
		ids = append(ids, m.CarID)
	}
	assert.Equal(t, []string{"CAR01", "CAR02", "CAR03", "CAR01", "CAR02", "CAR03"}, ids)
}

func TestNext_Deterministic(t *testing.T) {
	cfg := Config{Cars: 4, Seed: 7, OverheatProbability: 0.3, OverheatSamples: 3, SampleInterval: time.Second, Start: start}
	a, b := New(cfg), New(cfg)
	for i := 0; i < 50; i++ {
		assert.Equal(t, string(a.Next().Body), string(b.Next().Body), "sample %d", i)
	}
	assert.Equal(t, a.Injected(), b.Injected())
}

func TestNext_VirtualClockPerCar(t *testing.T) {
	g := New(Config{Cars: 2, Seed: 1, SampleInterval: 500 * time.Millisecond, Start: start})

	first := decode(t, g.Next())
	_ = g.Next()
	second := decode(t, g.Next())

	assert.Equal(t, "CAR01", second.CarID)
	t1, err := time.Parse(time.RFC3339Nano, first.Timestamp)
	require.NoError(t, err)
	t2, err := time.Parse(time.RFC3339Nano, second.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, start, t1)
	assert.Equal(t, 500*time.Millisecond, t2.Sub(t1))
}

func TestNext_NominalRanges(t *testing.T) {
	g := New(Config{Cars: 3, Seed: 3, SampleInterval: time.Second, Start: start})
	for i := 0; i < 300; i++ {
		p := decode(t, g.Next())
		assert.GreaterOrEqual(t, p.SpeedKmh, 230.0)
		assert.LessOrEqual(t, p.SpeedKmh, 350.0)
		for _, v := range []float64{p.BrakeTempFL, p.BrakeTempFR, p.BrakeTempRL, p.BrakeTempRR} {
			assert.Less(t, v, 950.0)
		}
		for _, v := range []float64{p.TireTempFL, p.TireTempFR, p.TireTempRL, p.TireTempRR} {
			assert.Less(t, v, 130.0)
		}
		assert.Less(t, p.EngineTemp, 125.0)
	}
}

func TestNext_CompoundAndDriver(t *testing.T) {
	g := New(Config{Cars: 3, Seed: 1, SampleInterval: time.Second, Start: start})
	got := []string{decode(t, g.Next()).TireCompound, decode(t, g.Next()).TireCompound, decode(t, g.Next()).TireCompound}
	assert.Equal(t, []string{"soft", "medium", "hard"}, got)
}

func TestNext_LapsAndWear(t *testing.T) {
	g := New(Config{Cars: 1, Seed: 1, SampleInterval: time.Second, SamplesPerLap: 4, Start: start})

	var laps []int
	var wear []float64
	for i := 0; i < 9; i++ {
		p := decode(t, g.Next())
		laps = append(laps, p.Lap)
		wear = append(wear, p.TireWear)
	}
	assert.Equal(t, []int{1, 1, 1, 1, 2, 2, 2, 2, 3}, laps)
	for i := 1; i < len(wear); i++ {
		assert.GreaterOrEqual(t, wear[i], wear[i-1], "wear must not decrease")
	}
}

func TestNext_InjectedOverheatIsSustained(t *testing.T) {
	g := New(Config{Cars: 1, Seed: 1, OverheatProbability: 1, OverheatSamples: 4, SampleInterval: 500 * time.Millisecond, Start: start})

	first := g.Next()
	require.NotEmpty(t, first.Overheat)
	kind := first.Overheat

	for i := 1; i < 4; i++ {
		m := g.Next()
		assert.Equal(t, kind, m.Overheat, "sample %d keeps the same overheat", i)
		p := decode(t, m)
		switch kind {
		case OverheatBrake:
			assert.Greater(t, p.BrakeTempFL, 950.0)
			assert.Greater(t, p.BrakeTempRR, 950.0)
		case OverheatTire:
			assert.Greater(t, p.TireTempFL, 130.0)
		case OverheatEngine:
			assert.Greater(t, p.EngineTemp, 125.0)
		}
	}
	assert.Equal(t, 1, g.Injected()[kind])

	// Probability 1 starts a fresh overheat once the previous one ends.
	_ = g.Next()
	total := 0
	for _, n := range g.Injected() {
		total += n
	}
	assert.Equal(t, 2, total)
}

func TestNext_NoInjectionAtZeroProbability(t *testing.T) {
	g := New(Config{Cars: 2, Seed: 1, OverheatSamples: 3, SampleInterval: time.Second, Start: start})
	for i := 0; i < 200; i++ {
		assert.Empty(t, g.Next().Overheat)
	}
	assert.Empty(t, g.Injected())
}

func TestNew_Defaults(t *testing.T) {
	g := New(Config{})
	p := decode(t, g.Next())
	assert.Equal(t, "CAR01", p.CarID)
	assert.Equal(t, "1970-01-01T00:00:00Z", p.Timestamp)
	assert.Equal(t, 1, p.Lap)
}
