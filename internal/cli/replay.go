package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var (
		file       string
		algorithm  string
		capacity   int
		window     time.Duration
		speed      float64
		identities []string
		flows      []string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a journal through a rate limiter",
		Long: `Replays admission events from an NDJSON journal through a freshly
configured rate limiter. The virtual clock advances to match the gaps
between events, so a recorded day of traffic can show what a different
algorithm or tier would have done, in seconds.

Journals come from "serve --record" or "simulate --record".

Speed: 0 = instant, 1 = real-time, 10 = 10x`,
		Example: `  ratelimitd replay --file decisions.ndjson
  ratelimitd replay --file decisions.ndjson --algorithm sliding_window --capacity 5
  ratelimitd replay --file decisions.ndjson --identities user: --flows gated
  ratelimitd replay --file decisions.ndjson --speed 10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			algo, err := limiter.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}

			filter := replay.Filter{Identities: identities}
			for _, f := range flows {
				switch flow := admission.Flow(f); flow {
				case admission.FlowGated, admission.FlowUnthrottled:
					filter.Flows = append(filter.Flows, flow)
				default:
					return fmt.Errorf("unknown flow %q", f)
				}
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer f.Close()

			vc := clock.NewVirtual(time.Now().Truncate(time.Second))
			lim, err := limiter.New(algo, counter.NewMemory(vc), vc)
			if err != nil {
				return err
			}
			tier := limiter.Tier{Name: "replayed", Capacity: capacity, Window: window}

			r := replay.New(lim, tier, vc, speed, filter)
			if err := r.Load(f); err != nil {
				return err
			}

			if !outputJSON {
				fmt.Printf("Replaying %s at %.0fx speed...\n\n", file, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				status := "ALLOW"
				if !res.Decision.Allowed {
					status = "DENY "
				}
				fmt.Printf("  [%s] %s identity=%s remaining=%d/%d\n",
					status,
					res.Event.Time.Format("15:04:05"),
					res.Event.Identity,
					res.Decision.Remaining,
					res.Decision.Limit)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				out := map[string]any{
					"results": results,
					"summary": summary,
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			fmt.Println()
			fmt.Println("--- Replay Summary ---")
			fmt.Printf("  Total events:  %d\n", summary.TotalEvents)
			fmt.Printf("  Matched:       %d\n", summary.Matched)
			fmt.Printf("  Replayed:      %d\n", summary.Replayed)
			fmt.Printf("  Allowed:       %d\n", summary.Allowed)
			fmt.Printf("  Denied:        %d\n", summary.Denied)
			fmt.Printf("  Virtual time:  %s\n", summary.Duration)
			fmt.Printf("  Wall time:     %s\n", summary.WallDuration.Round(time.Millisecond))

			if len(summary.PerIdentity) > 1 {
				fmt.Println()
				fmt.Println("  Per identity:")
				for id, is := range summary.PerIdentity {
					fmt.Printf("    %s: %d allowed, %d denied\n", id, is.Allowed, is.Denied)
				}
			}

			if summary.Denied > 0 && summary.Replayed > 0 {
				denyRate := float64(summary.Denied) / float64(summary.Replayed) * 100
				fmt.Printf("\nDeny rate: %.1f%% (%d/%d)\n", denyRate, summary.Denied, summary.Replayed)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to an NDJSON journal (required)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "fixed_window", "rate limiting algorithm")
	cmd.Flags().IntVar(&capacity, "capacity", 10, "requests allowed per window")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "rate limit window duration")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&identities, "identities", nil, "filter by identities, exact or substring (comma-separated)")
	cmd.Flags().StringSliceVar(&flows, "flows", nil, "filter by flows: gated, unthrottled (comma-separated)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}
