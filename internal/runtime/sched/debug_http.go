package sched

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DebugCoreSnapshot is one core's view for the diagnostic endpoints.
type DebugCoreSnapshot struct {
	Affinity         int           `json:"affinity"`
	TotalCowns       uint64        `json:"totalCowns"`
	FreeCowns        uint64        `json:"freeCowns"`
	Progress         uint64        `json:"progress"`
	LastWorker       uint64        `json:"lastWorker"`
	ServicingThreads int64         `json:"servicingThreads"`
	QueueStale       bool          `json:"queueStale"`
	Stats            StatsSnapshot `json:"stats"`
}

// DebugThreadSnapshot is one scheduler thread's protocol position.
type DebugThreadSnapshot struct {
	ID        uint64 `json:"id"`
	State     string `json:"state"`
	SendEpoch string `json:"sendEpoch"`
	Running   bool   `json:"running"`
}

// DebugLDSnapshot is the coordinator's aggregate view.
type DebugLDSnapshot struct {
	States      []string `json:"states"`
	ShouldScan  bool     `json:"shouldScan"`
	Inflight    int64    `json:"inflight"`
	GlobalEpoch uint64   `json:"globalEpoch"`
	Leaked      uint64   `json:"leaked"`
}

// CoreSnapshots collects the per-core diagnostics.
func (p *Pool) CoreSnapshots() []DebugCoreSnapshot {
	out := make([]DebugCoreSnapshot, len(p.cores))
	for i, c := range p.cores {
		out[i] = DebugCoreSnapshot{
			Affinity:         c.affinity,
			TotalCowns:       c.totalCowns.Load(),
			FreeCowns:        c.freeCowns.Load(),
			Progress:         c.progressCounter.Load(),
			LastWorker:       c.lastWorker.Load(),
			ServicingThreads: c.servicingThreads.Load(),
			QueueStale:       c.q.NothingOld(),
			Stats:            c.stats.Snapshot(),
		}
	}
	return out
}

// ThreadSnapshots collects the per-thread diagnostics. The protocol fields
// are sampled racily; this is a debugging aid, not a synchronisation point.
func (p *Pool) ThreadSnapshots() []DebugThreadSnapshot {
	out := make([]DebugThreadSnapshot, len(p.threads))
	for i, t := range p.threads {
		out[i] = DebugThreadSnapshot{
			ID:        t.systematicID,
			State:     t.LDState().String(),
			SendEpoch: t.SendEpoch().String(),
			Running:   t.running.Load(),
		}
	}
	return out
}

// LDSnapshot collects the coordinator view.
func (p *Pool) LDSnapshot() DebugLDSnapshot {
	states := p.coordinator.snapshot()
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return DebugLDSnapshot{
		States:      names,
		ShouldScan:  p.ShouldScan(),
		Inflight:    p.inflight.Load(),
		GlobalEpoch: GlobalEpoch.Current(),
		Leaked:      p.leaked.Load(),
	}
}

// DebugMux builds the diagnostic handler:
//
//	GET /sched/cores   -> JSON array of DebugCoreSnapshot
//	GET /sched/threads -> JSON array of DebugThreadSnapshot
//	GET /sched/ld      -> JSON DebugLDSnapshot
//	GET /sched/progress?core=<n> -> JSON progress counter for one core
func DebugMux(p *Pool) *http.ServeMux {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(v)
	}

	mux.HandleFunc("/sched/cores", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, p.CoreSnapshots())
	})

	mux.HandleFunc("/sched/threads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, p.ThreadSnapshots())
	})

	mux.HandleFunc("/sched/ld", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, p.LDSnapshot())
	})

	mux.HandleFunc("/sched/progress", func(w http.ResponseWriter, r *http.Request) {
		idxStr := r.URL.Query().Get("core")
		if idxStr == "" {
			http.Error(w, "missing core", http.StatusBadRequest)
			return
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 || idx >= len(p.cores) {
			http.Error(w, "invalid core", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]uint64{"progress": p.cores[idx].Progress()})
	})

	return mux
}

// StartDebugHTTP serves the diagnostic endpoints on addr and returns the
// bound address together with a shutdown function (useful with ":0").
func StartDebugHTTP(p *Pool, addr string) (string, func(ctx context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	server := &http.Server{Handler: DebugMux(p), ReadHeaderTimeout: 3 * time.Second}
	go func() { _ = server.Serve(ln) }()
	return ln.Addr().String(), server.Shutdown, nil
}
