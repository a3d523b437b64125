package topk

import (
	"reflect"
	"sort"
	"testing"
	"time"
)

// TestNew_Initialization tests that the New function correctly initializes the sketch.
// Its purpose is to ensure that the constructor properly sets the internal state
// of the TopKSketch based on the provided parameters.
func TestNew_Initialization(t *testing.T) {
	params := SketchParams{
		K:               10,
		WindowSize:      20,
		Width:           1024,
		Depth:           5,
		TickSize:        100,
		MaxSharePercent: 25,
		ActivationRPS:   500,
	}

	cs := New(params)

	if cs.tickSize != params.TickSize {
		t.Errorf("Expected tickSize to be %d, but got %d", params.TickSize, cs.tickSize)
	}
	if cs.maxSharePercent != params.MaxSharePercent {
		t.Errorf("Expected maxSharePercent to be %d, but got %d", params.MaxSharePercent, cs.maxSharePercent)
	}
	if cs.activationRPS != params.ActivationRPS {
		t.Errorf("Expected activationRPS to be %d, but got %d", params.ActivationRPS, cs.activationRPS)
	}
	if cs.sketch == nil {
		t.Errorf("Expected sketch to be initialized, but it was nil")
	}
}

// testAction defines a single call to ProcessTick, allowing us to control timing.
type testAction struct {
	domain string        // The domain for this specific verdict.
	sleep  time.Duration // How long to wait *after* this request to simulate traffic rate.
}

// processTickTestCase defines a complete scenario for the table-driven test.
type processTickTestCase struct {
	name        string       // A descriptive name for the scenario.
	params      SketchParams // The configuration to initialize the sketch with.
	actions     []testAction // A sequence of calls to ProcessTick to simulate traffic.
	wantFlagged []string     // The expected list of domains to be flagged at the end of the sequence.
}

// TestTopKSketch_ProcessTick is a table-driven test for the core logic of the sketch.
// Its purpose is to validate the behavior of the sketch under various traffic scenarios,
// ensuring it correctly implements the time-gated, high-share blocking logic.
func TestTopKSketch_ProcessTick(t *testing.T) {
	testCases := []processTickTestCase{
		{
			// Purpose: Verify that if not enough requests are made to complete a tick,
			// no blocking occurs. This is the simplest "do nothing" case.
			name: "NoTick_ShouldNotBlock",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 100, MaxSharePercent: 20,
			},
			actions:               generateActions(99, 0, map[string]int{"aaa.test": 99}),
			wantFlagged: nil,
		},
		{
			// Purpose: This is a critical test for the circuit breaker's main gate.
			// It ensures that even if one domain is completely dominant, it is NOT flagged
			// if the overall request rate is below the activation threshold.
			name: "LowRPS_DominantDomain_ShouldNotFlag",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 500, MaxSharePercent: 20,
			},
			// Simulate 100 requests over 250ms (400 RPS), which is below the 500 RPS activation.
			actions:               generateActions(100, 2*time.Millisecond, map[string]int{"aaa.test": 100}),
			wantFlagged: nil,
		},
		{
			// Purpose: Verify that high server load alone does not trigger blocking
			// if the traffic is distributed and no single domain is consuming an unfair share.
			// This prevents false positives during legitimate traffic spikes.
			name: "HighRPS_NoDominantDomain_ShouldNotFlag",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 500, MaxSharePercent: 20, // Threshold: 20% of 1000 = 200 requests
			},
			// Simulate 1000 RPS, but distribute them so none has > 20% share.
			actions:        generateActions(1000, 0, map[string]int{
				"aaa.test": 199, "bbb.test": 199, "ccc.test": 199,
				"ddd.test": 199, "eee.test": 199, "fff.test": 5,
			}),
			wantFlagged: nil,
		},
		{
			// Purpose: Test the primary success case where the circuit breaker should trip.
			// The server is under high load, and a single domain is responsible for a
			// disproportionate amount of that load.
			name: "HighRPS_SingleDominantDomain_ShouldFlag",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 500, MaxSharePercent: 20, // Threshold: 20% of 1000 = 200 requests
			},
			// Simulate 1000 RPS, with one domain sending 201 requests.
			actions:               generateActions(1000, 0, map[string]int{"aaa.test": 201, "bbb.test": 799}),
			wantFlagged: []string{"aaa.test"},
		},
		{
			// Purpose: Ensure the logic can identify and block multiple offenders in the
			// same window, not just the single top talker.
			name: "HighRPS_MultipleDominantDomains_ShouldFlagAll",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 500, MaxSharePercent: 20, // Threshold: 20% of 1000 = 200 requests
			},
			// Simulate 1000 RPS, with two domains each sending > 200 requests.
			actions:        generateActions(1000, 0, map[string]int{
				"aaa.test": 201, "bbb.test": 202, "ccc.test": 597,
			}),
			wantFlagged: []string{"aaa.test", "bbb.test"},
		},
		{
			// Purpose: Verify that the sketch's internal state (lastTickTime, window)
			// is correctly managed across multiple, distinct ticks.
			name: "StateAcrossMultipleTicks",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 500, MaxSharePercent: 20, // Threshold: 20% of 1000 = 200 requests
			},
			actions: combineActions(
				// Tick 1: High RPS, aaa.test is dominant and should be flagged.
				generateActions(1000, 0, map[string]int{"aaa.test": 300, "bbb.test": 700}),
				// Tick 2: Low RPS, ccc.test is dominant but should NOT be flagged.
				generateActions(100, 3*time.Millisecond, map[string]int{"ccc.test": 90, "ddd.test": 10}),
				// Tick 3: High RPS again, eee.test is now dominant and should be flagged.
				generateActions(1000, 0, map[string]int{"eee.test": 400, "fff.test": 600}),
			),
			// We only expect the domains from the high-RPS ticks to be flagged.
			wantFlagged: []string{"aaa.test", "eee.test"},
		},
		{
			// Purpose: This is an edge case test to ensure that if a tick happens
			// instantaneously (zero duration), the code doesn't panic due to division by zero.
			name: "InstantaneousTick_NoPanic",
			params: SketchParams{
				K: 5, WindowSize: 10, Width: 1024, Depth: 3, TickSize: 100,
				ActivationRPS: 1, MaxSharePercent: 10, // Threshold: 10% of 1000 = 100 requests
			},
			// All actions have zero sleep, making the duration between ticks potentially zero.
			actions:               generateActions(1000, 0, map[string]int{"aaa.test": 101, "bbb.test": 899}),
			wantFlagged: []string{"aaa.test"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cs := New(tc.params)
			var allFlagged []string

			for _, action := range tc.actions {
				flagged := cs.ProcessTick(action.domain)
				if flagged != nil {
					allFlagged = append(allFlagged, flagged...)
				}
				if action.sleep > 0 {
					time.Sleep(action.sleep)
				}
			}

			// Sort both slices for consistent comparison
			sort.Strings(allFlagged)
			sort.Strings(tc.wantFlagged)

			if !reflect.DeepEqual(allFlagged, tc.wantFlagged) {
				t.Errorf("Test case '%s' failed: \n- got:  %v\n- want: %v", tc.name, allFlagged, tc.wantFlagged)
			}
		})
	}
}

// generateActions is a helper function to create a sequence of test actions.
func generateActions(totalActions int, sleep time.Duration, counts map[string]int) []testAction {
	actions := make([]testAction, 0, totalActions)
	for domain, count := range counts {
		for i := 0; i < count; i++ {
			actions = append(actions, testAction{domain: domain, sleep: sleep})
		}
	}
	// Ensure the total number of actions is met, filling with a filler domain if needed.
	for len(actions) < totalActions {
		actions = append(actions, testAction{domain: "filler.test", sleep: sleep})
	}
	return actions
}

// combineActions is a helper to merge multiple action sequences for multi-tick tests.
func combineActions(actionLists ...[]testAction) []testAction {
	var combined []testAction
	for _, list := range actionLists {
		combined = append(combined, list...)
	}
	return combined
}
