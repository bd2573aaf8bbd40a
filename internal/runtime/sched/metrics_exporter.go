package sched

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// MetricFunc returns a map of metric name -> value. Names should stick to
// [a-zA-Z0-9_:] to ease exposition.
type MetricFunc func() map[string]float64

// PoolMetrics is the pool's collector for the metrics endpoint.
func PoolMetrics(p *Pool) MetricFunc {
	return func() map[string]float64 {
		out := map[string]float64{
			"inflight_messages": float64(p.inflight.Load()),
			"leaked_cowns":      float64(p.leaked.Load()),
			"global_epoch":      float64(GlobalEpoch.Current()),
		}
		for _, c := range p.cores {
			prefix := fmt.Sprintf("core%d_", c.affinity)
			s := c.stats.Snapshot()
			out[prefix+"total_cowns"] = float64(c.totalCowns.Load())
			out[prefix+"free_cowns"] = float64(c.freeCowns.Load())
			out[prefix+"progress"] = float64(c.progressCounter.Load())
			out[prefix+"steals"] = float64(s.Steals)
			out[prefix+"pauses"] = float64(s.Pauses)
			out[prefix+"unpauses"] = float64(s.Unpauses)
			out[prefix+"lifo"] = float64(s.Lifo)
			out[prefix+"tokens"] = float64(s.Tokens)
		}
		return out
	}
}

// StartMetricsServer starts a minimal text exposition endpoint on addr. The
// handler aggregates all provided collectors under "/metrics". It returns
// the bound address and a shutdown function.
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		// Text exposition, deterministic ordering.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		names := make([]string, 0, len(collectors))
		for name := range collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fn := collectors[name]
			if fn == nil {
				continue
			}
			snapshot := fn()
			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	bound := ln.Addr().String()
	go func() {
		_ = srv.Serve(ln)
	}()
	return bound, srv.Shutdown, nil
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return strings.ReplaceAll(string(b), "__", "_")
}
