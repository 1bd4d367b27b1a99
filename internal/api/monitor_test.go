package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"optionflow/internal/config"
	"optionflow/internal/monitor"
	"optionflow/internal/store"
	"optionflow/pkg/types"
)

type stubStream struct {
	mu      sync.Mutex
	symbols []string
	ch      chan types.PriceUpdate
}

func (s *stubStream) SetSymbols(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = symbols
	return nil
}
func (s *stubStream) Updates() <-chan types.PriceUpdate { return s.ch }
func (s *stubStream) Connected() bool                   { return true }
func (s *stubStream) Stopped() bool                     { return false }

type stubPoller struct {
	ch chan types.PriceUpdate
}

func (s *stubPoller) SetSymbols(symbols []string)       {}
func (s *stubPoller) Updates() <-chan types.PriceUpdate { return s.ch }

func newMonitorAPI(t *testing.T, maxTasks int) *httptest.Server {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := monitor.NewService(
		config.MonitorConfig{MaxTasks: maxTasks, ExpirySweepInterval: time.Hour},
		st,
		&stubStream{ch: make(chan types.PriceUpdate)},
		&stubPoller{ch: make(chan types.PriceUpdate)},
		monitor.NewWebhookDispatcher(5*time.Second, logger),
		logger,
	)
	srv := httptest.NewServer(NewMonitorMux(svc, st, logger))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func taskRequest(id string) types.CreateMonitorRequest {
	return types.CreateMonitorRequest{
		TaskID:       id,
		OptionSymbol: "BTC-27DEC25-100000-C",
		TargetPrice:  0.05,
		WebhookURL:   "http://localhost:8080/api/strategies/webhook",
		StrategyID:   "s1",
		LevelID:      "l1",
		MonitorType:  types.MonitorEntry,
	}
}

func TestMonitorCreateStatusCodes(t *testing.T) {
	t.Parallel()
	srv := newMonitorAPI(t, 1)

	resp := postJSON(t, srv.URL+"/api/monitor/create", taskRequest("t1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d, want 200", resp.StatusCode)
	}
	var envelope struct {
		Success bool              `json:"success"`
		Data    types.MonitorTask `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if !envelope.Success || envelope.Data.TaskID != "t1" {
		t.Errorf("envelope = %+v", envelope)
	}

	// Same id again: duplicate.
	resp = postJSON(t, srv.URL+"/api/monitor/create", taskRequest("t1"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate status = %d, want 400", resp.StatusCode)
	}

	// One-task capacity is used up.
	resp = postJSON(t, srv.URL+"/api/monitor/create", taskRequest("t2"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("capacity status = %d, want 429", resp.StatusCode)
	}
}

func TestMonitorCreateSpotRestriction(t *testing.T) {
	t.Parallel()
	srv := newMonitorAPI(t, 10)

	req := taskRequest("t1")
	req.MonitorInstrument = types.InstrumentSpot
	req.MonitorSymbol = "ETHUSDT"
	resp := postJSON(t, srv.URL+"/api/monitor/create", req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("spot status = %d, want 422", resp.StatusCode)
	}
}

func TestMonitorCreateRejectsUnknownEnum(t *testing.T) {
	t.Parallel()
	srv := newMonitorAPI(t, 10)

	body := []byte(`{"task_id":"t1","option_symbol":"BTC-27DEC25-100000-C","target_price":0.05,"webhook_url":"http://x","monitor_type":"EXIT"}`)
	resp, err := http.Post(srv.URL+"/api/monitor/create", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown enum status = %d, want 400", resp.StatusCode)
	}
}

func TestMonitorGetAndDelete(t *testing.T) {
	t.Parallel()
	srv := newMonitorAPI(t, 10)

	resp := postJSON(t, srv.URL+"/api/monitor/create", taskRequest("t1"))
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/monitor/t1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, want 200", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/monitor/nope")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/monitor/t1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d, want 200", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/monitor/t1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestMonitorListAndHealth(t *testing.T) {
	t.Parallel()
	srv := newMonitorAPI(t, 10)

	resp := postJSON(t, srv.URL+"/api/monitor/create", taskRequest("t1"))
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/monitor/tasks")
	var listEnv struct {
		Data struct {
			Tasks       []types.MonitorTask `json:"tasks"`
			ActiveCount int                 `json:"active_count"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listEnv); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(listEnv.Data.Tasks) != 1 || listEnv.Data.ActiveCount != 1 {
		t.Errorf("list = %+v", listEnv.Data)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/health")
	var healthEnv struct {
		Data struct {
			Status             string `json:"status"`
			WebsocketConnected bool   `json:"websocket_connected"`
			ActiveTasks        int    `json:"active_tasks"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&healthEnv); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if healthEnv.Data.Status != "ok" || !healthEnv.Data.WebsocketConnected || healthEnv.Data.ActiveTasks != 1 {
		t.Errorf("health = %+v", healthEnv.Data)
	}
}
