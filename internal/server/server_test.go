package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferroci/internal/core"
	"ferroci/internal/ledger"
	"ferroci/internal/metrics"
	"ferroci/internal/security"
)

const pipelineTOML = `
version = "1"

[jobs.build]
steps = ["echo build"]

[jobs.test]
steps = ["echo test"]
depends_on = ["build"]
`

type testEnv struct {
	server *Server
	http   *httptest.Server
	ledger *ledger.Ledger
	key    ed25519.PrivateKey
}

func newTestEnv(t *testing.T, configure func(*core.Runner)) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	_, priv, err := security.GenerateKeyPair()
	require.NoError(t, err)
	l, err := ledger.OpenLedger(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	require.NoError(t, err)

	runner := core.NewRunner()
	runner.Ledger = l
	runner.SigningKey = priv
	runner.Observers = []core.Observer{collector}
	if configure != nil {
		configure(runner)
	}

	s := New(runner, reg, nil)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, s.Drain(context.Background()))
	})
	return &testEnv{server: s, http: ts, ledger: runner.Ledger, key: runner.SigningKey}
}

func (e *testEnv) submit(t *testing.T, body, contentType string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/pipelines", contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func (e *testEnv) waitFinished(t *testing.T, id string) RunView {
	t.Helper()
	var view RunView
	require.Eventually(t, func() bool {
		view = RunView{}
		e.getJSON(t, "/runs/"+id, &view)
		return view.Status != StatusRunning
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestSubmitPipelineRunsIt(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.submit(t, pipelineTOML, "application/toml")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/runs/run-1", resp.Header.Get("Location"))
	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, map[string]string{"id": "run-1", "status": StatusRunning}, accepted)

	view := env.waitFinished(t, "run-1")
	assert.Equal(t, string(core.RunSuccess), view.Status)
	assert.Equal(t, "1", view.Version)
	assert.Equal(t, map[string]core.JobState{"build": core.JobSucceeded, "test": core.JobSucceeded}, view.Jobs)
	assert.NotNil(t, view.FinishedAt)

	var runs []RunSummary
	assert.Equal(t, http.StatusOK, env.getJSON(t, "/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	var verify map[string]any
	assert.Equal(t, http.StatusOK, env.getJSON(t, "/ledger/verify", &verify))
	assert.Equal(t, true, verify["ok"])
	assert.Equal(t, 3.0, verify["entries"])
}

func TestSubmitFailingPipeline(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `
version: "1"
jobs:
  x:
    steps: ["false"]
  y:
    steps: ["true"]
    depends_on: [x]
`
	resp := env.submit(t, body, "application/x-yaml")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view := env.waitFinished(t, "run-1")
	assert.Equal(t, string(core.RunJobFailure), view.Status)
	assert.Equal(t, "x", view.FailedJob)
	assert.Equal(t, core.JobFailed, view.Jobs["x"])
	assert.Equal(t, core.JobPending, view.Jobs["y"])
	assert.Contains(t, view.Error, "exit status 1")
}

func TestSubmitRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, func(r *core.Runner) { r.Strict = true })

	tests := []struct {
		name string
		url  string
		body string
		code int
	}{
		{"unknown format", "/pipelines?format=json", pipelineTOML, http.StatusBadRequest},
		{"malformed", "/pipelines", "version = ", http.StatusBadRequest},
		{"no steps", "/pipelines", "[jobs.a]\nsteps = []\n", http.StatusBadRequest},
		{"unknown dependency", "/pipelines?format=toml", "[jobs.a]\nsteps = [\"true\"]\ndepends_on = [\"b\"]\n", http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(env.http.URL+tc.url, "text/plain", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.code, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}

	var runs []RunSummary
	env.getJSON(t, "/runs", &runs)
	assert.Empty(t, runs)
}

func TestGetUnknownRun(t *testing.T) {
	env := newTestEnv(t, nil)
	var body map[string]string
	assert.Equal(t, http.StatusNotFound, env.getJSON(t, "/runs/nope", &body))
}

func TestVerifyLedgerDetectsTampering(t *testing.T) {
	env := newTestEnv(t, nil)
	env.submit(t, pipelineTOML, "")
	env.waitFinished(t, "run-1")

	path := env.ledger.Path()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), `"status":"succeeded"`, `"status":"failed"`, 1)), 0o644))
	tampered, err := ledger.OpenLedger(path)
	require.NoError(t, err)

	// a consistent chain written and signed with some other key
	_, otherKey, err := security.GenerateKeyPair()
	require.NoError(t, err)
	resigned, err := ledger.OpenLedger(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	for _, job := range []string{"build", "test"} {
		require.NoError(t, resigned.Append(ledger.NewEntry("run-1", job, "succeeded"), otherKey))
	}
	require.NoError(t, resigned.VerifyChain())

	tests := []struct {
		name   string
		runner *core.Runner
		code   int
		body   string
	}{
		{"edited entry", &core.Runner{Ledger: tampered, SigningKey: env.key}, http.StatusConflict, `"ok":false`},
		{"signed by another key", &core.Runner{Ledger: resigned, SigningKey: env.key}, http.StatusConflict, "untrusted key"},
		{"trusted signer", &core.Runner{Ledger: resigned, SigningKey: otherKey}, http.StatusOK, `"ok":true`},
		{"no signing key", &core.Runner{Ledger: resigned}, http.StatusServiceUnavailable, "no signing key"},
		{"ledger disabled", &core.Runner{}, http.StatusNotFound, "ledger disabled"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.runner, nil, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/verify", nil))
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
		})
	}
}

func TestMetricsAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.submit(t, pipelineTOML, "")
	env.waitFinished(t, "run-1")

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ferroci_runs_total{status="success"} 1`)
	assert.Contains(t, string(body), `ferroci_jobs_total{status="succeeded"} 2`)

	health, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServeShutsDownAndWaitsForRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	runner := core.NewRunner()
	s := New(runner, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	p, err := core.ParsePipeline([]byte("[jobs.slow]\nsteps = [\"sleep 0.2\"]\n"), core.FormatTOML)
	require.NoError(t, err)
	id, err := s.Submit(p)
	require.NoError(t, err)
	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, string(core.RunSuccess), s.runs[id].Status)
}
