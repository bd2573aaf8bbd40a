// Command cownrt-smoke-test exercises the scheduler end to end: it starts a
// pool, schedules a mesh of ping cowns, runs a leak-detection cycle, and
// prints the per-core counters on exit. Optional flags expose the debug and
// metrics endpoints while the run lasts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/orizon-lang/cownrt/internal/runtime/netstack"
	"github.com/orizon-lang/cownrt/internal/runtime/rtconfig"
	"github.com/orizon-lang/cownrt/internal/runtime/sched"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON runtime config")
	duration := flag.Duration("duration", 2*time.Second, "how long to run the mesh")
	cowns := flag.Int("cowns", 64, "number of ping cowns")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	cfg := rtconfig.Default()
	if *configPath != "" {
		var err error
		cfg, err = rtconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if *verbose {
		sched.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())
	}

	pool, err := sched.NewPool(sched.PoolConfig{
		Threads:           cfg.Threads,
		Fair:              cfg.Fair,
		DetectLeaks:       cfg.DetectLeaks,
		QuiescenceTimeout: time.Duration(cfg.QuiescenceTimeout),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	stopServers := startServers(pool, cfg)
	defer stopServers()

	// A mesh of cowns that keep rescheduling until the deadline.
	deadline := time.Now().Add(*duration)
	var executed atomic.Uint64
	for i := 0; i < *cowns; i++ {
		c := sched.NewCown(sched.RunnerFunc(func(a *sched.Alloc, _ sched.State) bool {
			executed.Add(1)
			return time.Now().Before(deadline)
		}))
		pool.Schedule(c)
	}

	pool.Start(nil)

	time.Sleep(*duration / 2)
	pool.RequestLD()

	pool.Wait()

	fmt.Printf("executed %d behaviours across %d threads\n", executed.Load(), cfg.Threads)
	for _, snap := range pool.CoreSnapshots() {
		fmt.Printf("core %d: progress=%d steals=%d pauses=%d unpauses=%d lifo=%d tokens=%d\n",
			snap.Affinity, snap.Progress, snap.Stats.Steals, snap.Stats.Pauses,
			snap.Stats.Unpauses, snap.Stats.Lifo, snap.Stats.Tokens)
	}
	if leaked := pool.LeakedCowns(); leaked > 0 {
		fmt.Printf("leaked cowns: %d\n", leaked)
	}
}

// startServers brings up the optional debug and metrics endpoints.
func startServers(pool *sched.Pool, cfg rtconfig.Config) func() {
	var stops []func()

	if cfg.DebugAddr != "" {
		if cfg.DebugHTTP3 {
			tlsCfg, err := netstack.GenerateSelfSignedTLS([]string{"localhost", "127.0.0.1"}, 0)
			if err != nil {
				fmt.Fprintln(os.Stderr, "debug tls:", err)
			} else {
				srv := netstack.NewHTTP3Server(cfg.DebugAddr, tlsCfg, sched.DebugMux(pool))
				if addr, err := srv.Start(); err == nil {
					fmt.Printf("debug (http/3): %s\n", addr)
					stops = append(stops, func() { _ = srv.Stop() })
				} else {
					fmt.Fprintln(os.Stderr, "debug http3:", err)
				}
			}
		} else {
			if addr, shutdown, err := sched.StartDebugHTTP(pool, cfg.DebugAddr); err == nil {
				fmt.Printf("debug: http://%s/sched/cores\n", addr)
				stops = append(stops, func() {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = shutdown(ctx)
				})
			} else {
				fmt.Fprintln(os.Stderr, "debug http:", err)
			}
		}
	}

	if cfg.MetricsAddr != "" {
		collectors := map[string]sched.MetricFunc{"sched": sched.PoolMetrics(pool)}
		if addr, shutdown, err := sched.StartMetricsServer(cfg.MetricsAddr, collectors); err == nil {
			fmt.Printf("metrics: http://%s/metrics\n", addr)
			stops = append(stops, func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = shutdown(ctx)
			})
		} else {
			fmt.Fprintln(os.Stderr, "metrics:", err)
		}
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
