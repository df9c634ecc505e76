package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/journal"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
)

func newSimulateCmd() *cobra.Command {
	var (
		algorithm   string
		capacity    int
		window      time.Duration
		identities  []string
		requests    int
		fastForward time.Duration
		outputJSON  bool
		recordFile  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run rate limit scenarios against a virtual clock",
		Long: `Runs batches of rate limit checks against a virtual clock, so limiter
behavior over minutes or hours can be verified in milliseconds.

The simulation sends a batch of checks per identity, optionally
fast-forwards time, then sends another batch to show how limits recover.
With --record the decisions are written as an NDJSON journal that the
replay command can read back.`,
		Example: `  ratelimitd simulate --requests 20 --capacity 10 --window 1m
  ratelimitd simulate --algorithm sliding_window --capacity 5 --window 30s --fast-forward 1m
  ratelimitd simulate --identities user:alice,guest:10.0.0.1 --json
  ratelimitd simulate --record synthetic.ndjson`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(identities) == 0 {
				identities = []string{"user:demo"}
			}
			algo, err := limiter.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}

			vc := clock.NewVirtual(time.Now().Truncate(time.Second))
			lim, err := limiter.New(algo, counter.NewMemory(vc), vc)
			if err != nil {
				return err
			}
			tier := limiter.Tier{Name: "simulated", Capacity: capacity, Window: window}

			result := runSimulation(vc, lim, tier, identities, requests, fastForward)

			if recordFile != "" {
				n, err := writeSimulationJournal(recordFile, result)
				if err != nil {
					return err
				}
				if !outputJSON {
					fmt.Printf("Recorded %d events to %s\n\n", n, recordFile)
				}
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSimulationResult(&result)
			return nil
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "fixed_window", "rate limiting algorithm")
	cmd.Flags().IntVar(&capacity, "capacity", 10, "requests allowed per window")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "rate limit window duration")
	cmd.Flags().StringSliceVar(&identities, "identities", nil, "comma-separated identities to simulate")
	cmd.Flags().IntVar(&requests, "requests", 15, "number of checks per identity per batch")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	cmd.Flags().StringVar(&recordFile, "record", "", "write decisions as an NDJSON journal")

	return cmd
}

// SimulationResult captures the full output of a simulation run.
type SimulationResult struct {
	Algorithm   string                     `json:"algorithm"`
	Capacity    int                        `json:"capacity"`
	Window      string                     `json:"window"`
	FastForward string                     `json:"fast_forward,omitempty"`
	Batches     []BatchResult              `json:"batches"`
	Summary     map[string]IdentitySummary `json:"summary"`
}

// BatchResult captures results for one batch of checks.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is a single rate limit check result.
type DecisionRecord struct {
	Identity string           `json:"identity"`
	At       time.Time        `json:"at"`
	Decision limiter.Decision `json:"decision"`
}

// IdentitySummary aggregates stats per identity.
type IdentitySummary struct {
	TotalRequests int `json:"total_requests"`
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
}

func runSimulation(vc *clock.Virtual, lim *limiter.Limiter, tier limiter.Tier, identities []string, requests int, fastForward time.Duration) SimulationResult {
	ctx := context.Background()

	result := SimulationResult{
		Algorithm: string(lim.Algorithm()),
		Capacity:  tier.Capacity,
		Window:    tier.Window.String(),
		Summary:   make(map[string]IdentitySummary),
	}

	runBatch := func(label string) {
		batch := BatchResult{
			Label: label,
			Time:  vc.Now().Format(time.RFC3339),
		}
		for i := 0; i < requests; i++ {
			for _, id := range identities {
				d := lim.Check(ctx, id, tier)
				batch.Decisions = append(batch.Decisions, DecisionRecord{Identity: id, At: vc.Now(), Decision: d})
				s := result.Summary[id]
				s.TotalRequests++
				if d.Allowed {
					s.Allowed++
				} else {
					s.Denied++
				}
				result.Summary[id] = s
			}
		}
		result.Batches = append(result.Batches, batch)
	}

	runBatch("Initial requests")

	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()
		runBatch(fmt.Sprintf("After fast-forward %s", fastForward))
	}

	return result
}

// writeSimulationJournal renders the simulated decisions as admission
// events so the replay command can re-run them.
func writeSimulationJournal(path string, result SimulationResult) (int, error) {
	jnl, err := journal.Open(path)
	if err != nil {
		return 0, err
	}
	defer jnl.Close()

	n := 0
	for _, batch := range result.Batches {
		for _, dr := range batch.Decisions {
			outcome := admission.OutcomeCompleted
			if !dr.Decision.Allowed {
				outcome = admission.OutcomeRateLimited
			}
			jnl.Record(admission.Event{
				Time:      dr.At,
				Flow:      admission.FlowGated,
				Identity:  dr.Identity,
				Outcome:   outcome,
				Remaining: dr.Decision.Remaining,
				ResetAt:   dr.Decision.ResetAt,
			})
			n++
		}
	}
	return n, nil
}

func printSimulationResult(r *SimulationResult) {
	fmt.Printf("=== %s: %d per %s ===\n\n", r.Algorithm, r.Capacity, r.Window)

	for _, batch := range r.Batches {
		fmt.Printf("--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, dr := range batch.Decisions {
			status := "ALLOW"
			if !dr.Decision.Allowed {
				status = "DENY "
			}
			fmt.Printf("  #%03d [%s] identity=%s remaining=%d/%d\n",
				i+1, status, dr.Identity, dr.Decision.Remaining, dr.Decision.Limit)
		}
		fmt.Println()
	}

	fmt.Println("--- Summary ---")
	for id, s := range r.Summary {
		fmt.Printf("  %s: %d total, %d allowed, %d denied\n",
			id, s.TotalRequests, s.Allowed, s.Denied)
	}

	if r.FastForward != "" {
		fmt.Printf("\nFast-forwarded %s between batches\n", r.FastForward)
		if deniedThenRecovered(r) {
			fmt.Println("Limits recovered: requests denied before the fast-forward were allowed after it.")
		}
	}
}

func deniedThenRecovered(r *SimulationResult) bool {
	if len(r.Batches) < 2 {
		return false
	}
	denied := false
	for _, dr := range r.Batches[0].Decisions {
		if !dr.Decision.Allowed {
			denied = true
			break
		}
	}
	if !denied {
		return false
	}
	for _, dr := range r.Batches[1].Decisions {
		if dr.Decision.Allowed {
			return true
		}
	}
	return false
}
