package monitoring

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultLatencyWindow is the number of recent dispatch latencies kept per
// message kind.
const DefaultLatencyWindow = 256

// DispatchStats accumulates per-kind delivery counters and a rolling window of
// dispatch latencies. It is safe for concurrent use.
type DispatchStats struct {
	mu     sync.Mutex
	window int
	kinds  map[string]*kindCounters
}

type kindCounters struct {
	delivered uint64
	listeners uint64
	panics    uint64
	latencies []float64 // microseconds, ring buffer
	elements  []float64 // ring buffer aligned with latencies
	next      int
}

// KindSummary is a snapshot of one kind's counters.
type KindSummary struct {
	Kind          string  `json:"kind"`
	Delivered     uint64  `json:"delivered"`
	ListenerCalls uint64  `json:"listener_calls"`
	Panics        uint64  `json:"panics"`
	MeanLatencyUs float64 `json:"mean_latency_us"`
	StdLatencyUs  float64 `json:"std_latency_us"`
	MeanElements  float64 `json:"mean_elements"`
	StdElements   float64 `json:"std_elements"`
	Samples       int     `json:"samples"`
}

// NewDispatchStats returns stats keeping window latency samples per kind.
// A window of zero or less uses DefaultLatencyWindow.
func NewDispatchStats(window int) *DispatchStats {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &DispatchStats{window: window, kinds: make(map[string]*kindCounters)}
}

func (s *DispatchStats) counters(kind string) *kindCounters {
	c, ok := s.kinds[kind]
	if !ok {
		c = &kindCounters{
			latencies: make([]float64, 0, s.window),
			elements:  make([]float64, 0, s.window),
		}
		s.kinds[kind] = c
	}
	return c
}

// Observe records one dispatched message of kind carrying elements array
// entries (points, objects or markers) that reached listeners listener
// callbacks and took elapsed end to end.
func (s *DispatchStats) Observe(kind string, listeners, elements int, elapsed time.Duration) {
	us := float64(elapsed) / float64(time.Microsecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(kind)
	c.delivered++
	c.listeners += uint64(listeners)
	if len(c.latencies) < s.window {
		c.latencies = append(c.latencies, us)
		c.elements = append(c.elements, float64(elements))
	} else {
		c.latencies[c.next] = us
		c.elements[c.next] = float64(elements)
	}
	c.next = (c.next + 1) % s.window
}

// ObservePanic counts a listener panic recovered during dispatch of kind.
func (s *DispatchStats) ObservePanic(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(kind).panics++
}

// Summary returns a snapshot of every kind seen so far, sorted by kind.
func (s *DispatchStats) Summary() []KindSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KindSummary, 0, len(s.kinds))
	for kind, c := range s.kinds {
		ks := KindSummary{
			Kind:          kind,
			Delivered:     c.delivered,
			ListenerCalls: c.listeners,
			Panics:        c.panics,
			Samples:       len(c.latencies),
		}
		if len(c.latencies) > 0 {
			ks.MeanLatencyUs, ks.StdLatencyUs = stat.MeanStdDev(c.latencies, nil)
			ks.MeanElements, ks.StdElements = stat.MeanStdDev(c.elements, nil)
		}
		out = append(out, ks)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
