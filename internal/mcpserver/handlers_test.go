package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/risk"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewClient(Config{APIURL: ts.URL, AdminSecret: "reviewer-secret"}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

var created = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func pendingSession() *challenge.Session {
	return &challenge.Session{
		ID:        "chl_abc",
		AttemptID: "att_1",
		UserID:    "user_42",
		Method:    challenge.MethodSMS,
		RiskLevel: risk.LevelMedium,
		Reasons:   []string{"new device"},
		Status:    challenge.StatusPending,
		CreatedAt: created,
		ExpiresAt: created.Add(5 * time.Minute),
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_SendsAdminSecret(t *testing.T) {
	var gotSecret, gotPath, gotLimit string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Admin-Secret")
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"assessments":[],"count":0}`))
	}))

	list, err := h.client.ListAssessments(context.Background(), "user_42", 5)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, "reviewer-secret", gotSecret)
	assert.Equal(t, "/v1/users/user_42/assessments", gotPath)
	assert.Equal(t, "5", gotLimit)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "forbidden",
			"message": "Valid X-Admin-Secret header required",
		})
	}))

	_, err := h.client.ListAssessments(context.Background(), "user_42", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Valid X-Admin-Secret header required")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))

	_, err := h.client.GetChallenge(context.Background(), "chl_abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	c := NewClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := c.GetChallenge(context.Background(), "chl_abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Tool handler tests
// ============================================================

func TestHandleListAssessments(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"assessments": []*risk.Assessment{{
				ID:                   "ra_1",
				UserID:               "user_42",
				OverallScore:         0.685,
				Level:                risk.LevelMedium,
				RequiresManualReview: true,
				Breakdown:            map[string]float64{"geo": 0.9, "anomaly": 0.7},
				Reasons:              []string{"high-risk country"},
				CreatedAt:            created,
			}},
			"count": 1,
		})
	}))

	result, err := h.HandleListAssessments(context.Background(), makeRequest(map[string]any{"user_id": "user_42"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "1 assessment(s) for user_42")
	assert.Contains(t, text, "0.685 (medium)")
	assert.Contains(t, text, "manual review")
	assert.Contains(t, text, "anomaly=0.70 geo=0.90")
	assert.Contains(t, text, "high-risk country")
}

func TestHandleListAssessments_Empty(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assessments":[],"count":0}`))
	}))

	result, err := h.HandleListAssessments(context.Background(), makeRequest(map[string]any{"user_id": "user_7"}))
	require.NoError(t, err)
	assert.Equal(t, "No assessments recorded for user_7.", resultText(t, result))
}

func TestHandleListAssessments_MissingUser(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://127.0.0.1:1"}))
	result, err := h.HandleListAssessments(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user_id is required")
}

func TestHandleGetChallenge(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/challenges/chl_abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"challenge": pendingSession()})
	}))

	result, err := h.HandleGetChallenge(context.Background(), makeRequest(map[string]any{"challenge_id": "chl_abc"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Challenge: chl_abc")
	assert.Contains(t, text, "Method: sms | Risk: medium")
	assert.Contains(t, text, "Status: pending")
	assert.Contains(t, text, "Expires: 2026-10-19T12:05:00Z")
}

func TestHandleGetChallenge_NotFound(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"Challenge not found"}`))
	}))

	result, err := h.HandleGetChallenge(context.Background(), makeRequest(map[string]any{"challenge_id": "chl_missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Challenge not found")
}

func TestHandleCancelChallenge(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/challenges/chl_abc/cancel", r.URL.Path)
		s := pendingSession()
		s.Status = challenge.StatusCanceled
		resolved := created.Add(time.Minute)
		s.ResolvedAt = &resolved
		_ = json.NewEncoder(w).Encode(map[string]any{"challenge": s, "message": "not authorized"})
	}))

	result, err := h.HandleCancelChallenge(context.Background(), makeRequest(map[string]any{"challenge_id": "chl_abc"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "not authorized")
	assert.Contains(t, text, "Status: canceled")
	assert.Contains(t, text, "Resolved: 2026-10-19T12:01:00Z")
}

func TestHandleCancelChallenge_MissingID(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://127.0.0.1:1"}))
	result, err := h.HandleCancelChallenge(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"}, "test")
	require.NotNil(t, s)
}
