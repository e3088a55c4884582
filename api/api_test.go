package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluebox123/agentic-orchestrator/api"
	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/broker"
	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/registry"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret"

type testServer struct {
	handler http.Handler
	store   *store.Store
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	opts := &server.Options{JetStream: true, StoreDir: t.TempDir(), Port: -1}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	s, err := store.New(context.Background(), js, "test")
	require.NoError(t, err)

	b, err := broker.New(context.Background(), js, nil)
	require.NoError(t, err)

	artifacts := artifact.New(s)
	events := api.NewEventBus(nc)
	cfg := config.TaskConfig{Timeout: 10 * time.Minute, MaxRetries: 3}
	orch := orchestrator.New(s, b, events, artifacts, cfg, nil)

	h := api.New(api.Deps{
		Store:     s,
		Orch:      orch,
		Artifacts: artifacts,
		Broker:    b,
		Registry:  registry.NewDefaultRegistry(),
		Events:    events,
		JWTSecret: testJWTSecret,
	})

	return testServer{handler: h, store: s}
}

func bearerToken(t *testing.T, sub, orgID string) string {
	t.Helper()
	claims := api.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		OrgID:             orgID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)
	rec := doRequest(t, ts.handler, http.MethodPost, "/api/jobs", "", map[string]any{"title": "x"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateJobThenGetRoundTrips(t *testing.T) {
	ts := newTestServer(t)
	token := bearerToken(t, "user-1", "org-1")

	body := map[string]any{
		"title": "demo report",
		"tasks": []map[string]any{
			{"id": "fetch", "agent_type": "scraper", "inputs": map[string]any{"url": "https://example.com"}},
		},
	}
	rec := doRequest(t, ts.handler, http.MethodPost, "/api/jobs", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		JobID     string `json:"jobId"`
		TaskCount int    `json:"taskCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.JobID)
	require.Equal(t, 1, created.TaskCount)

	rec = doRequest(t, ts.handler, http.MethodGet, "/api/jobs/"+created.JobID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, ts.handler, http.MethodGet, "/api/jobs/"+created.JobID+"/tasks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []store.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
}

func TestCreateJobRejectsInvalidWorkflow(t *testing.T) {
	ts := newTestServer(t)
	token := bearerToken(t, "user-1", "org-1")

	body := map[string]any{
		"title": "bad",
		"tasks": []map[string]any{
			{"id": "fetch", "agent_type": "not_a_real_agent"},
		},
	}
	rec := doRequest(t, ts.handler, http.MethodPost, "/api/jobs", token, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobForbiddenForOtherOrg(t *testing.T) {
	ts := newTestServer(t)
	owner := bearerToken(t, "user-1", "org-1")
	stranger := bearerToken(t, "user-2", "org-2")

	body := map[string]any{
		"title": "demo",
		"tasks": []map[string]any{
			{"id": "fetch", "agent_type": "scraper", "inputs": map[string]any{"url": "https://example.com"}},
		},
	}
	rec := doRequest(t, ts.handler, http.MethodPost, "/api/jobs", owner, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct{ JobID string `json:"jobId"` }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, ts.handler, http.MethodGet, "/api/jobs/"+created.JobID, stranger, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRetryTaskRequiresFailedStatus(t *testing.T) {
	ts := newTestServer(t)
	token := bearerToken(t, "user-1", "org-1")

	body := map[string]any{
		"title": "demo",
		"tasks": []map[string]any{
			{"id": "fetch", "agent_type": "scraper", "inputs": map[string]any{"url": "https://example.com"}},
		},
	}
	rec := doRequest(t, ts.handler, http.MethodPost, "/api/jobs", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct{ JobID string `json:"jobId"` }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	taskID := created.JobID + ":fetch"
	rec = doRequest(t, ts.handler, http.MethodPost, fmt.Sprintf("/api/tasks/%s/retry", taskID), token, nil)
	require.Equal(t, http.StatusConflict, rec.Code) // task is QUEUED, not FAILED
}

func TestPromoteArtifactRejectsSkippingApproval(t *testing.T) {
	ts := newTestServer(t)
	token := bearerToken(t, "user-1", "org-1")
	ctx := context.Background()

	art := store.Artifact{
		ID: "art-1", JobID: "job-1", TaskID: "task-1",
		Type: store.ArtifactChart, Filename: "c.json", StorageKey: "k", Version: 1,
		IsCurrent: true, Status: store.ArtifactDraft, CreatedAt: time.Now(),
	}
	_, err := ts.store.Put(ctx, store.BucketArtifacts, "row.art-1", art)
	require.NoError(t, err)

	rec := doRequest(t, ts.handler, http.MethodPost, "/api/artifacts/art-1/promote", token,
		map[string]any{"target_status": "frozen"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDLQEmptyByDefault(t *testing.T) {
	ts := newTestServer(t)
	token := bearerToken(t, "user-1", "org-1")

	rec := doRequest(t, ts.handler, http.MethodGet, "/api/dlq", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []broker.DLQEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Empty(t, entries)
}
