package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"logingest/internal/eventbus"
	"logingest/internal/job"
	"logingest/pkg/logx"
)

func startTestService(t *testing.T, bus eventbus.Bus, stats func() []job.Stats, state func() StatusInfo) (*Service, string) {
	t.Helper()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop(), bus, stats, state)
	addr, err := svc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc, "http://" + addr
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestDisabledDoesNotListen(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: false}, logx.Nop(), nil, nil, nil)
	addr, err := svc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if addr != "" {
		t.Fatalf("disabled monitor bound %s", addr)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	started := time.Now().Add(-time.Minute)
	_, base := startTestService(t, nil, nil, func() StatusInfo {
		return StatusInfo{State: "running", StartedAt: started, Jobs: 2}
	})

	var got StatusInfo
	getJSON(t, base+"/status", &got)
	if got.State != "running" || got.Jobs != 2 {
		t.Fatalf("status = %+v", got)
	}
	if got.Uptime == "" {
		t.Fatal("uptime not computed")
	}
}

func TestJobsEndpoint(t *testing.T) {
	t.Parallel()
	stats := func() []job.Stats {
		return []job.Stats{
			{Job: "a", TotalFires: 3, TotalSuccesses: 2, TotalFailures: 1, LastOutcome: job.OutcomeFailure},
			{Job: "b", TotalFires: 1, TotalSuccesses: 1},
		}
	}
	_, base := startTestService(t, nil, stats, nil)

	var got []job.Stats
	getJSON(t, base+"/jobs", &got)
	if len(got) != 2 || got[0].Job != "a" || got[0].TotalFires != 3 {
		t.Fatalf("jobs = %+v", got)
	}
}

func TestHistoryFromBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	_, base := startTestService(t, bus, nil, nil)

	for i := 0; i < 3; i++ {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeJobCompleted,
			Data: job.Run{Job: "j", Attempt: 1, Outcome: job.OutcomeSuccess},
		})
	}

	var got []HistoryEntry
	deadline := time.Now().Add(2 * time.Second)
	for {
		got = nil
		getJSON(t, base+"/history", &got)
		if len(got) == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(got) != 3 {
		t.Fatalf("history entries = %d, want 3", len(got))
	}
	if got[0].Type != eventbus.TypeJobCompleted {
		t.Fatalf("entry type = %s", got[0].Type)
	}

	// limit=1 returns only the newest entry.
	var limited []HistoryEntry
	getJSON(t, base+"/history?limit=1", &limited)
	if len(limited) != 1 {
		t.Fatalf("limited entries = %d", len(limited))
	}

	resp, err := http.Get(base + "/history?limit=zero")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, base := startTestService(t, nil, nil, nil)
	resp, err := http.Post(base+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}
}

func TestHistoryRingBounded(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop(), nil, nil, nil)
	for i := 0; i < historyCap+10; i++ {
		svc.record(HistoryEntry{Type: eventbus.TypeJobStarted, Time: time.Now()})
	}
	svc.mu.Lock()
	n := len(svc.history)
	svc.mu.Unlock()
	if n != historyCap {
		t.Fatalf("ring size = %d, want %d", n, historyCap)
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := startTestService(t, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
	svc.Stop(ctx)
}
