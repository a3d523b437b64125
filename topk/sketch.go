package topk

import (
	"sync"
	"time"

	"github.com/keilerkonzept/topk/sliding"
)

// SketchParams holds the configuration for creating a new TopKSketch.
type SketchParams struct {
	// K is the number of top items to keep track of in the sketch.
	K int
	// WindowSize is the size of the sliding window, measured in ticks. The total
	// theoretical capacity of the window is `WindowSize * TickSize`. For example,
	// if WindowSize is 10 and TickSize is 100, the window capacity is 1000 events.
	WindowSize int
	// Width is the width of the underlying Count-Min sketch. A larger width
	// reduces the probability of over-counting but increases memory usage.
	Width int
	// Depth is the depth of the underlying Count-Min sketch. A larger depth
	// also reduces over-counting at the cost of more memory.
	Depth int
	// TickSize is the number of events that constitute a single "tick". After
	// this many events, the sketch's internal clock advances.
	TickSize uint64
	// MaxSharePercent is the maximum percentage of the total window capacity that
	// a single key can consume before being flagged as an outlier. This logic
	// tolerates a higher share for lower event rates (where a dominant key is not
	// a threat) and a lower, more aggressive share for higher rates. For example,
	// at the 'medium' level (35% share, 1000 event capacity), a key is flagged if
	// it exceeds 350 events within the window.
	MaxSharePercent int
	// ActivationRPS is the events-per-second threshold that must be met for the
	// tracker to become active. Its primary purpose is to act as a gate, ensuring
	// the tracker does nothing during periods of low event volume. For example, at
	// the 'medium' level (100 event TickSize, 500 RPS activation), a tick must
	// occur in 200ms or less for the tracker to engage.
	ActivationRPS int
}

// TopKSketch provides a thread-safe wrapper around a sliding window sketch
// for tracking frequent items and managing ticking.
type TopKSketch struct {
	mu              sync.Mutex
	sketch          *sliding.Sketch
	tickSize        uint64 // number of events per tick
	tickReq         uint64 // Counter for events processed since last tick
	lastTickTime    time.Time
	maxSharePercent int
	activationRPS   int
}

// New creates a new thread-safe sketch wrapper.
// It initializes the underlying sliding window sketch with the given parameters.
func New(params SketchParams) *TopKSketch {
	sketchInstance := sliding.New(params.K, params.WindowSize, sliding.WithWidth(params.Width), sliding.WithDepth(params.Depth))

	return &TopKSketch{
		sketch:          sketchInstance,
		tickSize:        params.TickSize,
		lastTickTime:    time.Now(),
		maxSharePercent: params.MaxSharePercent,
		activationRPS:   params.ActivationRPS,
	}
}

// ProcessTick increments the count for the given key. If a tick completes,
// it checks against the provided thresholds and returns the keys whose
// share of the window exceeds MaxSharePercent.
func (cs *TopKSketch) ProcessTick(key string) []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.sketch.Incr(key)
	cs.tickReq++

	if cs.tickReq >= cs.tickSize {
		// A tick has completed, now we check the conditions for flagging.
		cs.tickReq = 0
		now := time.Now()
		duration := now.Sub(cs.lastTickTime)
		cs.lastTickTime = now

		var rps float64
		if duration.Seconds() > 0 {
			rps = float64(cs.tickSize) / duration.Seconds()
		}

		// --- Gate 1: Is event volume high enough to be meaningful? ---
		if rps < float64(cs.activationRPS) {
			cs.sketch.Tick() // Still tick the sketch to slide the window, but don't flag.
			return nil
		}

		// --- Gate 2: Is any key consuming too much of the window? ---
		windowCapacity := uint64(cs.sketch.WindowSize) * cs.tickSize
		thresholdCount := (windowCapacity * uint64(cs.maxSharePercent)) / 100

		outliers := make([]string, 0)
		// We check the items *before* ticking to evaluate the window that just completed.
		for _, item := range cs.sketch.SortedSlice() {
			if item.Count > uint32(thresholdCount) {
				outliers = append(outliers, item.Item)
			} else {
				break // Sorted list allows early exit.
			}
		}

		cs.sketch.Tick() // Now, slide the window.
		return outliers
	}

	return nil
}
