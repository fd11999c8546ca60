package generator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Overheat kinds. Each names the category prefix the processor reports for it.
const (
	OverheatBrake  = "brake_overheat"
	OverheatTire   = "tire_overheat"
	OverheatEngine = "engine_overheat"
)

var overheatKinds = []string{OverheatBrake, OverheatTire, OverheatEngine}

// Compounds and their base tire temperatures.
var compoundBase = map[string]float64{
	"soft":   105,
	"medium": 95,
	"hard":   85,
}

var compounds = []string{"soft", "medium", "hard"}

var drivers = []string{
	"Leclerc", "Sainz", "Hamilton", "Russell", "Verstappen",
	"Perez", "Norris", "Piastri", "Alonso", "Stroll",
}

// wearPerLap is the tire wear, in percent, added on each completed lap.
const wearPerLap = 2.5

// Config controls a Generator.
type Config struct {
	Cars                int
	Seed                int64
	OverheatProbability float64
	OverheatSamples     int
	SampleInterval      time.Duration
	SamplesPerLap       int
	Start               time.Time
}

// Payload is one telemetry message as POSTed to the processor.
type Payload struct {
	Timestamp    string  `json:"timestamp"`
	CarID        string  `json:"car_id"`
	Driver       string  `json:"driver"`
	Lap          int     `json:"lap"`
	TireCompound string  `json:"tire_compound"`
	SpeedKmh     float64 `json:"speed_kmh"`
	EngineTemp   float64 `json:"engine_temp_celsius"`
	BrakePress   float64 `json:"brake_pressure_bar"`
	BrakeTempFL  float64 `json:"brake_temp_fl_celsius"`
	BrakeTempFR  float64 `json:"brake_temp_fr_celsius"`
	BrakeTempRL  float64 `json:"brake_temp_rl_celsius"`
	BrakeTempRR  float64 `json:"brake_temp_rr_celsius"`
	TireTempFL   float64 `json:"tire_temp_fl_celsius"`
	TireTempFR   float64 `json:"tire_temp_fr_celsius"`
	TireTempRL   float64 `json:"tire_temp_rl_celsius"`
	TireTempRR   float64 `json:"tire_temp_rr_celsius"`
	TireWear     float64 `json:"tire_wear_percent"`
}

// Message is a generated payload together with its car index, used to route
// all samples of one car to the same sender.
type Message struct {
	Car      int
	CarID    string
	Overheat string
	Body     []byte
}

type car struct {
	id       string
	driver   string
	compound string
	lap      int
	samples  int
	wear     float64
	clock    time.Time

	overheat  string
	remaining int
}

// Generator hands out payloads round-robin across its cars. It is not safe
// for concurrent use.
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	cars []*car
	next int

	injected map[string]int
}

// New returns a Generator for cfg. Zero SamplesPerLap defaults to 100 and a
// zero Start to the Unix epoch.
func New(cfg Config) *Generator {
	if cfg.SamplesPerLap <= 0 {
		cfg.SamplesPerLap = 100
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Unix(0, 0).UTC()
	}
	if cfg.Cars <= 0 {
		cfg.Cars = 1
	}
	g := &Generator{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // synthetic data
		cars:     make([]*car, cfg.Cars),
		injected: make(map[string]int),
	}
	for i := range g.cars {
		g.cars[i] = &car{
			id:       fmt.Sprintf("CAR%02d", i+1),
			driver:   drivers[i%len(drivers)],
			compound: compounds[i%len(compounds)],
			lap:      1,
			clock:    cfg.Start,
		}
	}
	return g
}

// Next returns the payload of the next car in turn.
func (g *Generator) Next() Message {
	idx := g.next
	g.next = (g.next + 1) % len(g.cars)
	c := g.cars[idx]

	p := g.sample(c)
	body, err := json.Marshal(p)
	if err != nil {
		// Payload holds only strings, ints and finite floats.
		panic(fmt.Sprintf("generator: marshal payload: %v", err))
	}
	return Message{Car: idx, CarID: c.id, Overheat: c.overheat, Body: body}
}

// Injected returns how many overheats of each kind have been started.
func (g *Generator) Injected() map[string]int {
	out := make(map[string]int, len(g.injected))
	for k, v := range g.injected {
		out[k] = v
	}
	return out
}

func (g *Generator) sample(c *car) Payload {
	c.samples++
	if c.samples > g.cfg.SamplesPerLap {
		c.samples = 1
		c.lap++
		c.wear = math.Min(100, c.wear+wearPerLap)
	}
	ts := c.clock
	c.clock = c.clock.Add(g.cfg.SampleInterval)

	if c.remaining == 0 {
		c.overheat = ""
		if g.rng.Float64() < g.cfg.OverheatProbability {
			c.overheat = overheatKinds[g.rng.Intn(len(overheatKinds))]
			c.remaining = g.cfg.OverheatSamples
			g.injected[c.overheat]++
		}
	}

	pressure := g.between(20, 160)
	brakeBase := 200.0
	if pressure > 100 {
		brakeBase = 300
	}
	tireBase := compoundBase[c.compound]

	p := Payload{
		Timestamp:    ts.Format(time.RFC3339Nano),
		CarID:        c.id,
		Driver:       c.driver,
		Lap:          c.lap,
		TireCompound: c.compound,
		SpeedKmh:     round1(g.between(230, 350)),
		EngineTemp:   round1(g.between(90, 120)),
		BrakePress:   round1(pressure),
		BrakeTempFL:  round1(brakeBase + g.between(0, 100)),
		BrakeTempFR:  round1(brakeBase + g.between(0, 100)),
		BrakeTempRL:  round1(brakeBase + g.between(0, 80)),
		BrakeTempRR:  round1(brakeBase + g.between(0, 80)),
		TireTempFL:   round1(tireBase + g.between(-5, 10)),
		TireTempFR:   round1(tireBase + g.between(-5, 10)),
		TireTempRL:   round1(tireBase + g.between(-5, 10)),
		TireTempRR:   round1(tireBase + g.between(-5, 10)),
		TireWear:     round1(c.wear + float64(c.samples)/float64(g.cfg.SamplesPerLap)*wearPerLap),
	}

	if c.remaining > 0 {
		g.applyOverheat(c.overheat, &p)
		c.remaining--
	}
	return p
}

// applyOverheat raises one signal group clearly above the stock processor
// thresholds (brake 950, tire 130, engine 125 °C).
func (g *Generator) applyOverheat(kind string, p *Payload) {
	switch kind {
	case OverheatBrake:
		v := round1(g.between(980, 1100))
		p.BrakeTempFL, p.BrakeTempFR, p.BrakeTempRL, p.BrakeTempRR = v, v, v, v
	case OverheatTire:
		v := round1(g.between(135, 150))
		p.TireTempFL, p.TireTempFR, p.TireTempRL, p.TireTempRR = v, v, v, v
	case OverheatEngine:
		p.EngineTemp = round1(g.between(128, 140))
	}
}

func (g *Generator) between(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
