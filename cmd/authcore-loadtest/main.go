// Command authcore-loadtest measures the Redis-backed hot paths of the
// auth service: attempt-limiter check/record and one-time code
// issue/verify. Runs against a real Redis or an embedded miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cobalthq/authcore/internal/mailer"
	"github.com/cobalthq/authcore/internal/otp"
	"github.com/cobalthq/authcore/internal/ratelimit"
)

func main() {
	var (
		accounts    = flag.Int("accounts", 100000, "number of distinct identifiers to spread load across")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	limiter := ratelimit.NewLimiter(client, map[string]ratelimit.Rule{
		"login": {MaxAttempts: 1 << 30, Window: time.Hour},
	}, zap.NewNop())
	codes := otp.NewManager(client, mailer.NoopDispatcher{}, otp.Config{
		TTL:    time.Hour,
		Digits: 6,
	})

	emails := make([]string, *accounts)
	for i := range emails {
		emails[i] = fmt.Sprintf("load-%d@example.com", i)
	}

	limiterStats := runLimiterPhase(ctx, limiter, emails, *ops, *concurrency)
	otpStats := runOTPPhase(ctx, codes, emails, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("limiter", limiterStats)
	printStats("otp", otpStats)
}

// runLimiterPhase drives check-then-record pairs, the shape every guarded
// endpoint produces per request.
func runLimiterPhase(ctx context.Context, limiter *ratelimit.Limiter, emails []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				email := emails[r.Intn(len(emails))]
				t0 := time.Now()
				allowed, _ := limiter.Check(ctx, "login", email)
				var err error
				if allowed {
					_, err = limiter.Record(ctx, "login", email, false)
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runOTPPhase issues a code and immediately verifies it, covering both the
// write and the consume path of the challenge store.
func runOTPPhase(ctx context.Context, codes *otp.Manager, emails []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				// Worker-private identifier space: concurrent issues on a
				// shared email would overwrite each other's challenge.
				email := fmt.Sprintf("%s.%d.%d", emails[r.Intn(len(emails))], worker, i)
				t0 := time.Now()
				code, err := codes.Issue(ctx, email)
				if err == nil {
					err = codes.Verify(ctx, email, code)
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
