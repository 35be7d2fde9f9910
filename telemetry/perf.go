package telemetry

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Phase names for one worker iteration.
const (
	PhaseFetch    = "fetch"
	PhaseSpawn    = "spawn"
	PhasePhysics  = "physics"
	PhaseControl  = "control"
	PhaseEvaluate = "evaluate"
	PhaseHarvest  = "harvest"
)

// Phases lists every phase in iteration order.
var Phases = []string{PhaseFetch, PhaseSpawn, PhasePhysics, PhaseControl, PhaseEvaluate, PhaseHarvest}

// PerfSample holds timing data for a single tick.
type PerfSample struct {
	TickDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks tick timings over a rolling window. Start/phase/end
// calls come from the owning worker; Stats may be called from any goroutine.
type PerfCollector struct {
	windowSize int

	mu          sync.Mutex
	samples     []PerfSample
	writeIndex  int
	sampleCount int

	currentPhases map[string]time.Duration
	tickStart     time.Time
	phaseStart    time.Time
	lastPhase     string

	now func() time.Time
}

// NewPerfCollector creates a collector averaging over windowSize ticks.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration, len(Phases)),
		now:           time.Now,
	}
}

// StartTick begins timing a new tick.
func (p *PerfCollector) StartTick() {
	p.tickStart = p.now()
	clear(p.currentPhases)
	p.lastPhase = ""
}

// StartPhase ends the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := p.now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndTick finishes the current tick and records the sample.
func (p *PerfCollector) EndTick() {
	now := p.now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
		p.lastPhase = ""
	}

	p.mu.Lock()
	// Sample maps are reused once the window has wrapped.
	sample := &p.samples[p.writeIndex]
	sample.TickDuration = now.Sub(p.tickStart)
	if sample.Phases == nil {
		sample.Phases = make(map[string]time.Duration, len(Phases))
	}
	clear(sample.Phases)
	maps.Copy(sample.Phases, p.currentPhases)
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
	p.mu.Unlock()
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration

	// Average duration and share of tick time per phase
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	TicksPerSecond float64
	Samples        int
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg: make(map[string]time.Duration),
			PhasePct: make(map[string]float64),
		}
	}

	var totalTick, minTick, maxTick time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		totalTick += s.TickDuration
		if i == 0 || s.TickDuration < minTick {
			minTick = s.TickDuration
		}
		if s.TickDuration > maxTick {
			maxTick = s.TickDuration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avgTick := totalTick / time.Duration(p.sampleCount)
	phaseAvg := make(map[string]time.Duration, len(phaseSum))
	phasePct := make(map[string]float64, len(phaseSum))
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avgTick > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avgTick) * 100
		}
	}

	var ticksPerSec float64
	if avgTick > 0 {
		ticksPerSec = float64(time.Second) / float64(avgTick)
	}

	return PerfStats{
		AvgTickDuration: avgTick,
		MinTickDuration: minTick,
		MaxTickDuration: maxTick,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		TicksPerSecond:  ticksPerSec,
		Samples:         p.sampleCount,
	}
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("min_tick_us", s.MinTickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Int("ticks_per_sec", int(s.TicksPerSecond)),
	}
	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", float64(int(pct*10))/10))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	WorkerID    int     `csv:"worker"`
	Completed   int     `csv:"completed"`
	AvgTickUS   int64   `csv:"avg_tick_us"`
	MinTickUS   int64   `csv:"min_tick_us"`
	MaxTickUS   int64   `csv:"max_tick_us"`
	TicksPerSec float64 `csv:"ticks_per_sec"`
	FetchPct    float64 `csv:"fetch_pct"`
	SpawnPct    float64 `csv:"spawn_pct"`
	PhysicsPct  float64 `csv:"physics_pct"`
	ControlPct  float64 `csv:"control_pct"`
	EvaluatePct float64 `csv:"evaluate_pct"`
	HarvestPct  float64 `csv:"harvest_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly record.
func (s PerfStats) ToCSV(workerID, completed int) PerfStatsCSV {
	return PerfStatsCSV{
		WorkerID:    workerID,
		Completed:   completed,
		AvgTickUS:   s.AvgTickDuration.Microseconds(),
		MinTickUS:   s.MinTickDuration.Microseconds(),
		MaxTickUS:   s.MaxTickDuration.Microseconds(),
		TicksPerSec: s.TicksPerSecond,
		FetchPct:    s.PhasePct[PhaseFetch],
		SpawnPct:    s.PhasePct[PhaseSpawn],
		PhysicsPct:  s.PhasePct[PhasePhysics],
		ControlPct:  s.PhasePct[PhaseControl],
		EvaluatePct: s.PhasePct[PhaseEvaluate],
		HarvestPct:  s.PhasePct[PhaseHarvest],
	}
}
