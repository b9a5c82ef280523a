package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

type fakeHandle struct {
	aborted    bool
	state      core.ProtectionState
	violations []core.ViolationEvent
	history    []core.Sample
}

func (f *fakeHandle) IsAborted() bool                   { return f.aborted }
func (f *fakeHandle) Violations() []core.ViolationEvent { return f.violations }
func (f *fakeHandle) State() core.ProtectionState       { return f.state }
func (f *fakeHandle) History() []core.Sample            { return f.history }
func (f *fakeHandle) SamplesTaken() int                 { return len(f.history) }
func (f *fakeHandle) SamplesSkipped() int               { return 0 }
func (f *fakeHandle) Stop()                             {}

func newTestServer(t *testing.T, tracker *Tracker) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer("", tracker, logging.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	tracker := NewTracker()
	handle := &fakeHandle{
		state:   core.StateViolated,
		aborted: true,
		violations: []core.ViolationEvent{
			{Timestamp: time.Now(), Metric: core.MetricCPUPercent, Observed: 95, Threshold: 80},
		},
		history: []core.Sample{{Timestamp: time.Now(), CPUPercent: 95}},
	}
	tracker.RunStarted("run-x", handle)
	tracker.PhaseStarted("cache_hit")

	srv := newTestServer(t, tracker)

	var status statusResponse
	if code := getJSON(t, srv.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.RunID != "run-x" || status.RunStatus != "running" {
		t.Errorf("status = %+v", status)
	}
	if status.CurrentPhase != "cache_hit" {
		t.Errorf("current phase = %q", status.CurrentPhase)
	}
	if !status.Aborted || status.ProtectionState != core.StateViolated || status.ViolationCount != 1 {
		t.Errorf("protection fields = %+v", status)
	}
}

func TestViolationsAndSamplesEndpoints(t *testing.T) {
	tracker := NewTracker()
	tracker.RunStarted("run-x", &fakeHandle{
		violations: []core.ViolationEvent{{Metric: core.MetricConnections, Observed: 600, Threshold: 500}},
		history:    []core.Sample{{CPUPercent: 10}, {CPUPercent: 20}},
	})
	srv := newTestServer(t, tracker)

	var violations struct {
		Violations []core.ViolationEvent `json:"violations"`
	}
	getJSON(t, srv.URL+"/api/violations", &violations)
	if len(violations.Violations) != 1 || violations.Violations[0].Metric != core.MetricConnections {
		t.Errorf("violations = %+v", violations)
	}

	var samples struct {
		Samples []core.Sample `json:"samples"`
	}
	getJSON(t, srv.URL+"/api/samples", &samples)
	if len(samples.Samples) != 2 {
		t.Errorf("samples = %+v", samples)
	}
}

func TestEndpointsBeforeRunStarts(t *testing.T) {
	srv := newTestServer(t, NewTracker())

	var status statusResponse
	if code := getJSON(t, srv.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.RunStatus != "pending" || status.ProtectionState != core.StateIdle {
		t.Errorf("pre-run status = %+v", status)
	}

	var health map[string]string
	if code := getJSON(t, srv.URL+"/healthz", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, health)
	}
}

func TestTrackerRunFinished(t *testing.T) {
	tracker := NewTracker()
	tracker.RunStarted("run-x", &fakeHandle{state: core.StateMonitoring})
	tracker.PhaseStarted("table_bloat")
	tracker.RunFinished("completed")

	srv := newTestServer(t, tracker)
	var status statusResponse
	getJSON(t, srv.URL+"/api/status", &status)
	if status.RunStatus != "completed" || status.CurrentPhase != "" {
		t.Errorf("finished status = %+v", status)
	}
}
