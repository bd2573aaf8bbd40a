package sched

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServerExposesPoolCounters(t *testing.T) {
	pool, err := NewPool(PoolConfig{Threads: 1})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	addr, shutdown, err := StartMetricsServer("127.0.0.1:0", map[string]MetricFunc{
		"sched": PoolMetrics(pool),
	})
	if err != nil {
		t.Fatalf("metrics server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"sched_inflight_messages", "sched_core0_progress", "sched_core0_tokens"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metric %q missing from exposition:\n%s", want, body)
		}
	}
}

func TestDebugEndpointsServeSnapshots(t *testing.T) {
	pool, err := NewPool(PoolConfig{Threads: 2})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	addr, shutdown, err := StartDebugHTTP(pool, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("debug server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	for _, path := range []string{"/sched/cores", "/sched/threads", "/sched/ld", "/sched/progress?core=1"} {
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%s content type %q", path, ct)
		}
		resp.Body.Close()
	}

	if resp, err := http.Get("http://" + addr + "/sched/progress?core=9"); err == nil {
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("out-of-range core returned %d", resp.StatusCode)
		}
		resp.Body.Close()
	}
}
