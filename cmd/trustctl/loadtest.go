package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/store/memstore"
)

type loadtestOptions struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
}

func newLoadtestCmd(a *app) *cobra.Command {
	var opts loadtestOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Run login and session validation against an in-process engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.users <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("users, concurrency and ops must be > 0")
			}
			if opts.redisAddr == "" {
				opts.redisAddr = a.cfg.RedisAddr
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}
	cmd.Flags().IntVar(&opts.users, "users", 1000, "number of users to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "operations in the validate phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; miniredis is used when empty")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, a *app, opts loadtestOptions) error {
	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if opts.redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{opts.redisAddr}})
		cleanup = func() { _ = client.Close() }
		fmt.Fprintf(out, "using redis at %s\n", opts.redisAddr)
	}
	defer cleanup()

	cfg, err := loadtestConfig()
	if err != nil {
		return err
	}
	engine, err := trustcore.New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		WithRedis(client).
		WithLogger(a.log).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(out, "seeding %d users...\n", opts.users)
	startSeed := time.Now()
	tokens := make([]string, opts.users)
	loginLatencies := make([]time.Duration, 0, opts.users)
	var loginFailures int64
	for i := 0; i < opts.users; i++ {
		name := fmt.Sprintf("load-%d", i)
		if _, err := engine.RegisterUser(ctx, name, "load-password", false); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		t0 := time.Now()
		res, err := engine.Login(ctx, trustcore.LoginRequest{Username: name, Password: "load-password"})
		loginLatencies = append(loginLatencies, time.Since(t0))
		if err != nil {
			loginFailures++
			continue
		}
		tokens[i] = res.Token
	}
	loginTotal := time.Since(startSeed)
	fmt.Fprintf(out, "seeded in %s\n", loginTotal.Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, tokens, opts.ops, opts.concurrency)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "login", computeStats(loginTotal, loginLatencies, loginFailures))
	printStats(out, "validate", validateStats)
	return nil
}

// loadtestConfig uses throwaway keys and the cheapest bcrypt cost, so the
// run measures the session path rather than hashing.
func loadtestConfig() (trustcore.Config, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return trustcore.Config{}, err
	}
	secret, err := crypto.GenerateKey()
	if err != nil {
		return trustcore.Config{}, err
	}

	cfg := trustcore.DefaultConfig()
	cfg.Crypto.EncryptionKey = key
	cfg.Crypto.PasswordWorkFactor = 4
	cfg.Token.Secret = []byte(secret)
	return cfg, nil
}

func runValidatePhase(ctx context.Context, engine *trustcore.Engine, tokens []string, ops, concurrency int) phaseStats {
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
				token := tokens[r.Intn(len(tokens))]
				t0 := time.Now()
				_, err := engine.ValidateSession(ctx, token)
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

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
