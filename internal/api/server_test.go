package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"hiring-pipeline-agents/internal/agent"
	"hiring-pipeline-agents/internal/catalog"
	"hiring-pipeline-agents/internal/gateway"
	"hiring-pipeline-agents/internal/models"
	"hiring-pipeline-agents/internal/supervisor"
	"hiring-pipeline-agents/internal/telemetry"
)

type emptyGateway struct{}

func (emptyGateway) FetchAll(context.Context) (gateway.Batch, error) {
	return gateway.Batch{Candidates: []models.Candidate{{ID: "1", Status: "Shortlisted"}}}, nil
}

func (emptyGateway) SetStatus(context.Context, models.CandidateID, string, string) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(time.Second, nil)
	for _, stage := range []catalog.Stage{catalog.StageIntake, catalog.StageInterview} {
		w, err := agent.NewStageWorker(stage, emptyGateway{}, nil)
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
		if err := sup.Register(agent.NewScheduler(w, agent.Options{Interval: time.Hour}, nil)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	srv := httptest.NewServer(New(sup, nil).Router())
	t.Cleanup(srv.Close)
	return srv, sup
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response %d %v", resp.StatusCode, body)
	}
}

func TestListAndGetAgents(t *testing.T) {
	srv, sup := newTestServer(t)
	interview, _ := sup.Lookup("interview")
	if _, err := interview.Once(context.Background()); err != nil {
		t.Fatalf("once: %v", err)
	}

	resp, err := http.Get(srv.URL + "/agents")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var list struct {
		Agents []agent.Status `json:"agents"`
	}
	decode(t, resp, &list)
	if len(list.Agents) != 2 || list.Agents[0].Name != "intake" || list.Agents[1].Name != "interview" {
		t.Fatalf("unexpected agents %+v", list.Agents)
	}
	if list.Agents[1].Cycles != 1 || list.Agents[1].LastApplied != 1 {
		t.Fatalf("interview status not reported: %+v", list.Agents[1])
	}

	resp, err = http.Get(srv.URL + "/agents/intake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var one agent.Status
	decode(t, resp, &one)
	if one.Name != "intake" || one.Phase != "idle" || one.Interval != "1h0m0s" {
		t.Fatalf("unexpected status %+v", one)
	}

	resp, err = http.Get(srv.URL + "/agents/nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTrigger(t *testing.T) {
	srv, _ := newTestServer(t)

	post := func(path string) *http.Response {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		return resp
	}

	resp := post("/agents/intake/trigger")
	var body map[string]any
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusAccepted || body["queued"] != true {
		t.Fatalf("unexpected trigger response %d %v", resp.StatusCode, body)
	}

	resp = post("/agents/intake/trigger")
	decode(t, resp, &body)
	if body["queued"] != false {
		t.Fatalf("second trigger should coalesce: %v", body)
	}

	resp = post("/agents/missing/trigger")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCatalog(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/catalog")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body struct {
		Transitions []transitionView `json:"transitions"`
	}
	decode(t, resp, &body)
	if len(body.Transitions) != 4 {
		t.Fatalf("expected 4 edges, got %+v", body.Transitions)
	}
	first := body.Transitions[0]
	if first.From != "" || first.To != catalog.StatusApplicationReceived || first.Stage != "intake" {
		t.Fatalf("unexpected first edge %+v", first)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, sup := newTestServer(t)
	interview, _ := sup.Lookup("interview")
	before := testutil.ToFloat64(telemetry.CyclesTotal.WithLabelValues("interview", "ok"))
	if _, err := interview.Once(context.Background()); err != nil {
		t.Fatalf("once: %v", err)
	}
	if got := testutil.ToFloat64(telemetry.CyclesTotal.WithLabelValues("interview", "ok")); got != before+1 {
		t.Fatalf("cycles counter = %v, want %v", got, before+1)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "agent_cycles_total") {
		t.Fatalf("metrics not exposed: %d", resp.StatusCode)
	}
}
