package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/risk"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListAssessments lists a user's recent risk assessments.
func (h *Handlers) HandleListAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", 10)

	list, err := h.client.ListAssessments(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAssessments(userID, list)), nil
}

// HandleGetChallenge returns a challenge's state.
func (h *Handlers) HandleGetChallenge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("challenge_id", "")
	if id == "" {
		return mcp.NewToolResultError("challenge_id is required"), nil
	}

	s, err := h.client.GetChallenge(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get challenge: %v", err)), nil
	}

	return mcp.NewToolResultText(formatChallenge(s)), nil
}

// HandleCancelChallenge cancels a pending challenge.
func (h *Handlers) HandleCancelChallenge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("challenge_id", "")
	if id == "" {
		return mcp.NewToolResultError("challenge_id is required"), nil
	}

	s, err := h.client.CancelChallenge(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel challenge: %v", err)), nil
	}

	return mcp.NewToolResultText("Challenge canceled. The payment attempt is not authorized.\n\n" + formatChallenge(s)), nil
}

// --- Formatting ---

func formatAssessments(userID string, list []*risk.Assessment) string {
	if len(list) == 0 {
		return fmt.Sprintf("No assessments recorded for %s.", userID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d assessment(s) for %s:\n\n", len(list), userID)
	for i, a := range list {
		fmt.Fprintf(&sb, "%d. %s  %s\n", i+1, a.ID, a.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&sb, "   Score: %.3f (%s) | %s\n", a.OverallScore, a.Level, verdict(a))
		if len(a.Breakdown) > 0 {
			fmt.Fprintf(&sb, "   Breakdown: %s\n", formatBreakdown(a.Breakdown))
		}
		if len(a.Reasons) > 0 {
			fmt.Fprintf(&sb, "   Reasons: %s\n", strings.Join(a.Reasons, "; "))
		}
		if len(a.SuggestedActions) > 0 {
			fmt.Fprintf(&sb, "   Suggested: %s\n", strings.Join(a.SuggestedActions, "; "))
		}
		if i < len(list)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func verdict(a *risk.Assessment) string {
	switch {
	case a.BlockTransaction:
		return "blocked"
	case a.RequiresManualReview:
		return "manual review"
	case a.RequiresAdditionalVerification:
		return "verification required"
	default:
		return "no action"
	}
}

func formatBreakdown(b map[string]float64) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.2f", k, b[k])
	}
	return strings.Join(parts, " ")
}

func formatChallenge(s *challenge.Session) string {
	if s == nil {
		return "Challenge not found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Challenge: %s\n", s.ID)
	fmt.Fprintf(&sb, "Attempt: %s | User: %s\n", s.AttemptID, s.UserID)
	fmt.Fprintf(&sb, "Method: %s | Risk: %s\n", s.Method, s.RiskLevel)
	fmt.Fprintf(&sb, "Status: %s", s.Status)
	if s.FailureReason != "" {
		fmt.Fprintf(&sb, " (%s)", s.FailureReason)
	}
	sb.WriteString("\n")
	if s.Status == challenge.StatusPending {
		fmt.Fprintf(&sb, "Expires: %s\n", s.ExpiresAt.UTC().Format(time.RFC3339))
	} else if s.ResolvedAt != nil {
		fmt.Fprintf(&sb, "Resolved: %s\n", s.ResolvedAt.UTC().Format(time.RFC3339))
	}
	if len(s.Reasons) > 0 {
		fmt.Fprintf(&sb, "Reasons: %s\n", strings.Join(s.Reasons, "; "))
	}
	return sb.String()
}
