package discord

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/turn"
)

// TurnStats keeps recent stage latencies and outcome counters for the stats
// command. It is fed by turn events ([TurnStats.Notify]) and finished turns
// ([TurnStats.ObserveTurn]).
//
// Safe for concurrent use.
type TurnStats struct {
	mu sync.Mutex

	stt  latencyBuffer
	llm  latencyBuffer
	turn latencyBuffer

	outcomes map[string]int64
	failures map[turn.Step]int64
}

var _ turn.Notifier = (*TurnStats)(nil)

// NewTurnStats keeps at most windowSize samples per stage.
func NewTurnStats(windowSize int) *TurnStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &TurnStats{
		stt:      newLatencyBuffer(windowSize),
		llm:      newLatencyBuffer(windowSize),
		turn:     newLatencyBuffer(windowSize),
		outcomes: make(map[string]int64),
		failures: make(map[turn.Step]int64),
	}
}

// Notify implements [turn.Notifier].
func (ts *TurnStats) Notify(_ context.Context, ev turn.Event) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	switch ev.Kind {
	case turn.EventTranscribed:
		ts.stt.add(ev.Elapsed)
	case turn.EventReplied:
		ts.llm.add(ev.Elapsed)
	case turn.EventFailed:
		ts.failures[ev.Step]++
	}
}

// ObserveTurn records a finished turn.
func (ts *TurnStats) ObserveTurn(res turn.Result) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.outcomes[res.Outcome()]++
	if res.Final != turn.StateAborted {
		ts.turn.add(res.Duration)
	}
}

// LatencyPercentiles holds p50 and p95 values for a latency stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// StatsSnapshot is a point-in-time view of [TurnStats].
type StatsSnapshot struct {
	STT      LatencyPercentiles
	LLM      LatencyPercentiles
	Turn     LatencyPercentiles
	Outcomes map[string]int64
	Failures map[turn.Step]int64
}

// Snapshot returns a copy of the current statistics.
func (ts *TurnStats) Snapshot() StatsSnapshot {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	s := StatsSnapshot{
		STT:      ts.stt.percentiles(),
		LLM:      ts.llm.percentiles(),
		Turn:     ts.turn.percentiles(),
		Outcomes: make(map[string]int64, len(ts.outcomes)),
		Failures: make(map[turn.Step]int64, len(ts.failures)),
	}
	for k, v := range ts.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range ts.failures {
		s.Failures[k] = v
	}
	return s
}

// Format renders the snapshot for a chat message.
func (s StatsSnapshot) Format() string {
	var b strings.Builder
	row := func(name string, p LatencyPercentiles) {
		fmt.Fprintf(&b, "%-5s p50 %6dms  p95 %6dms\n", name, p.P50.Milliseconds(), p.P95.Milliseconds())
	}
	row("STT", s.STT)
	row("LLM", s.LLM)
	row("Turn", s.Turn)

	var total int64
	for _, n := range s.Outcomes {
		total += n
	}
	fmt.Fprintf(&b, "turns %d", total)
	for _, k := range sortedKeys(s.Outcomes) {
		fmt.Fprintf(&b, "  %s %d", k, s.Outcomes[k])
	}
	if len(s.Failures) > 0 {
		b.WriteString("\nfailures")
		steps := make([]string, 0, len(s.Failures))
		for k := range s.Failures {
			steps = append(steps, string(k))
		}
		slices.Sort(steps)
		for _, k := range steps {
			fmt.Fprintf(&b, "  %s %d", k, s.Failures[turn.Step(k)])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0-1.0) of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
