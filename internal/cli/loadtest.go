package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newLoadtestCmd() *cobra.Command {
	var (
		opts       loadtestOptions
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Fire paced requests at a running gateway",
		Long: `Sends chat requests to a running gateway at a fixed pace and tallies
the outcomes by status code. Useful for watching tiers fill up and the
worker pool shed load in real time.`,
		Example: `  ratelimitd loadtest --target http://localhost:8080 --rps 20 --duration 10s
  ratelimitd loadtest --unthrottled --workers 8
  ratelimitd loadtest --rps 50 --duration 30s --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := runLoadtest(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printLoadtestSummary(summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "http://localhost:8080", "base URL of the gateway")
	cmd.Flags().Float64Var(&opts.RPS, "rps", 10, "requests per second")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "concurrent request workers")
	cmd.Flags().StringVar(&opts.Message, "message", "load test message", "chat message to send")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for the authenticated tier")
	cmd.Flags().BoolVar(&opts.Unthrottled, "unthrottled", false, "target the queued endpoint instead of the rate limited one")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the summary as JSON")

	return cmd
}

type loadtestOptions struct {
	Target      string
	RPS         float64
	Duration    time.Duration
	Workers     int
	Message     string
	Token       string
	Unthrottled bool
}

// LoadtestSummary tallies responses by status code.
type LoadtestSummary struct {
	Endpoint     string      `json:"endpoint"`
	Sent         int         `json:"sent"`
	Errors       int         `json:"errors"`
	ByStatus     map[int]int `json:"by_status"`
	AvgLatencyMS int64       `json:"avg_latency_ms"`
	MaxLatencyMS int64       `json:"max_latency_ms"`
	Elapsed      string      `json:"elapsed"`
}

func runLoadtest(ctx context.Context, opts loadtestOptions) (*LoadtestSummary, error) {
	if opts.RPS <= 0 {
		return nil, fmt.Errorf("rps must be positive, got %v", opts.RPS)
	}
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", opts.Workers)
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", opts.Duration)
	}

	endpoint := opts.Target + "/api/chat"
	if opts.Unthrottled {
		endpoint = opts.Target + "/api/chat/unthrottled"
	}

	body, err := json.Marshal(map[string]string{"message": opts.Message})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	// One shared pacer keeps the aggregate rate fixed no matter how many
	// workers are pulling from it.
	pacer := rate.NewLimiter(rate.Limit(opts.RPS), 1)

	summary := &LoadtestSummary{Endpoint: endpoint, ByStatus: make(map[int]int)}
	var (
		mu      sync.Mutex
		totalNS int64
		maxNS   int64
	)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := pacer.Wait(ctx); err != nil {
					return
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
				if err != nil {
					return
				}
				req.Header.Set("Content-Type", "application/json")
				if opts.Token != "" {
					req.Header.Set("Authorization", "Bearer "+opts.Token)
				}

				began := time.Now()
				res, err := http.DefaultClient.Do(req)
				took := time.Since(began)

				mu.Lock()
				summary.Sent++
				if err != nil {
					summary.Errors++
				} else {
					summary.ByStatus[res.StatusCode]++
					totalNS += int64(took)
					if int64(took) > maxNS {
						maxNS = int64(took)
					}
				}
				mu.Unlock()

				if err == nil {
					io.Copy(io.Discard, res.Body)
					res.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if completed := summary.Sent - summary.Errors; completed > 0 {
		summary.AvgLatencyMS = totalNS / int64(completed) / int64(time.Millisecond)
	}
	summary.MaxLatencyMS = maxNS / int64(time.Millisecond)
	return summary, nil
}

func printLoadtestSummary(s *LoadtestSummary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("  Endpoint:     %s\n", s.Endpoint)
	fmt.Printf("  Sent:         %d\n", s.Sent)
	fmt.Printf("  Errors:       %d\n", s.Errors)

	codes := make([]int, 0, len(s.ByStatus))
	for code := range s.ByStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d %-21s %d\n", code, http.StatusText(code)+":", s.ByStatus[code])
	}

	fmt.Printf("  Avg latency:  %dms\n", s.AvgLatencyMS)
	fmt.Printf("  Max latency:  %dms\n", s.MaxLatencyMS)
	fmt.Printf("  Elapsed:      %s\n", s.Elapsed)
}
