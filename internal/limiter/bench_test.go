package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
)

func benchLimiter(b *testing.B, algo Algorithm) *Limiter {
	b.Helper()
	vc := clock.NewVirtual(epoch)
	l, err := New(algo, counter.NewMemory(vc), vc)
	if err != nil {
		b.Fatal(err)
	}
	return l
}

// BenchmarkCheck compares the three algorithms on the in-process store,
// serial and parallel. The huge capacity keeps every check on the allow
// path so the numbers measure bookkeeping, not denial short-circuits.
func BenchmarkCheck(b *testing.B) {
	tier := Tier{Name: "bench", Capacity: 10_000_000, Window: time.Minute}

	for _, algo := range allAlgorithms {
		b.Run(string(algo)+"/serial", func(b *testing.B) {
			l := benchLimiter(b, algo)
			bctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				l.Check(bctx, "u1", tier)
			}
		})

		b.Run(string(algo)+"/parallel_100keys", func(b *testing.B) {
			l := benchLimiter(b, algo)
			bctx := context.Background()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					l.Check(bctx, fmt.Sprintf("u-%d", i%100), tier)
					i++
				}
			})
		})
	}
}

// BenchmarkCheck_Denied measures the deny path, which for the sliding
// window and token bucket is read-only.
func BenchmarkCheck_Denied(b *testing.B) {
	tier := Tier{Name: "bench", Capacity: 1, Window: time.Hour}

	for _, algo := range allAlgorithms {
		b.Run(string(algo), func(b *testing.B) {
			l := benchLimiter(b, algo)
			bctx := context.Background()
			l.Check(bctx, "u1", tier) // consume the only unit
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				l.Check(bctx, "u1", tier)
			}
		})
	}
}
