package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-labs/govern/pkg/config"
	"github.com/aegis-labs/govern/pkg/governance"
	"github.com/aegis-labs/govern/pkg/observability"
)

func writeRequest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"govern"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestDecideAllowExitZero(t *testing.T) {
	t.Setenv("GOVERN_STORE_PATH", filepath.Join(t.TempDir(), "audit.db"))

	reqPath := writeRequest(t, `{
		"agent_id": "agent-7",
		"tier": 2,
		"environment": "dev",
		"action_class": "write",
		"cost_estimate": 10
	}`)

	code, stdout, stderr := runCLI("decide", "-request", reqPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "allow")
	assert.Contains(t, stdout, "Audit ID:")
}

func TestDecidePendingApprovalExitOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"key": "CR-2025-1042",
			"fields": {
				"summary": "Deploy endpoint, executed by agent-7",
				"status": {"name": "Pending"},
				"approver_role": "Change Manager"
			}
		}`))
	}))
	defer srv.Close()

	t.Setenv("GOVERN_STORE_PATH", filepath.Join(t.TempDir(), "audit.db"))
	t.Setenv("GOVERN_TRACKER_URL", srv.URL)

	reqPath := writeRequest(t, `{
		"agent_id": "agent-7",
		"tier": 3,
		"environment": "prod",
		"action_class": "deploy",
		"cr_id": "CR-2025-1042"
	}`)

	code, stdout, _ := runCLI("decide", "-request", reqPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "not approved")
}

func TestDecideApprovedExitZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"key": "CR-2025-1042",
			"fields": {
				"summary": "Deploy endpoint, executed by agent-7",
				"status": {"name": "Approved"},
				"approver_role": "Change Manager"
			}
		}`))
	}))
	defer srv.Close()

	t.Setenv("GOVERN_STORE_PATH", filepath.Join(t.TempDir(), "audit.db"))
	t.Setenv("GOVERN_TRACKER_URL", srv.URL)

	reqPath := writeRequest(t, `{
		"agent_id": "agent-7",
		"tier": 3,
		"environment": "prod",
		"action_class": "deploy",
		"cr_id": "CR-2025-1042"
	}`)

	code, stdout, stderr := runCLI("decide", "-request", reqPath, "-json")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"decision": "allow"`)
	assert.Contains(t, stdout, `"audit_id"`)
}

func TestDecideInvalidShapeExitTwo(t *testing.T) {
	t.Setenv("GOVERN_STORE_PATH", filepath.Join(t.TempDir(), "audit.db"))

	reqPath := writeRequest(t, `{
		"agent_id": "agent-7",
		"tier": 9,
		"environment": "prod",
		"action_class": "deploy"
	}`)

	code, _, stderr := runCLI("decide", "-request", reqPath)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid request")
}

func TestDecideMissingRequestFlag(t *testing.T) {
	code, _, stderr := runCLI("decide")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-request is required")
}

func TestVerifyAfterDecide(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("GOVERN_STORE_PATH", storePath)

	reqPath := writeRequest(t, `{
		"agent_id": "agent-7",
		"tier": 1,
		"environment": "dev",
		"action_class": "read"
	}`)
	code, _, stderr := runCLI("decide", "-request", reqPath)
	require.Equal(t, 0, code, "stderr: %s", stderr)

	code, stdout, _ := runCLI("verify", "-store", storePath)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Chain intact")
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestDecideRecordsTelemetry(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		DailyLimitCents:   10_000,
		MonthlyLimitCents: 1_000_000,
		TrackerTimeout:    time.Second,
		CheckTimeout:      time.Second,
	}

	engine, provider, cleanup, err := buildEngine(ctx, cfg, "", nil, false)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, provider, "no OTLP endpoint means no provider")

	req := governance.ActionRequest{
		AgentID:     "agent-7",
		Tier:        2,
		Environment: "dev",
		ActionClass: "write",
	}

	dec, err := decide(ctx, engine, nil, req)
	require.NoError(t, err)
	assert.Equal(t, governance.OutcomeAllow, dec.Decision)

	// The wrapped path goes through the span and metric callbacks even
	// when export is disabled.
	noop, err := observability.New(ctx, &observability.Config{ServiceName: "govern-test"})
	require.NoError(t, err)
	dec, err = decide(ctx, engine, noop, req)
	require.NoError(t, err)
	assert.Equal(t, governance.OutcomeAllow, dec.Decision)
}
