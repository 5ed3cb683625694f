package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the riskgate reviewer MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListAssessments = mcp.NewTool("list_assessments",
	mcp.WithDescription(
		"List the most recent risk assessments for a user, newest first. "+
			"Each assessment shows the overall score, risk level, per-component breakdown, "+
			"reasons and whether it was routed to manual review or blocked."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user whose assessments to list")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 10, at most 10 are retained)")),
)

var ToolGetChallenge = mcp.NewTool("get_challenge",
	mcp.WithDescription(
		"Get the state of an additional-verification challenge: its method, status, "+
			"the attempt it guards and when it expires."),
	mcp.WithString("challenge_id",
		mcp.Required(),
		mcp.Description("The challenge ID returned by an authorization (e.g. 'chl_...')")),
)

var ToolCancelChallenge = mcp.NewTool("cancel_challenge",
	mcp.WithDescription(
		"Cancel a pending challenge. The payment attempt waiting on it is not authorized. "+
			"Has no effect on challenges that already finished."),
	mcp.WithString("challenge_id",
		mcp.Required(),
		mcp.Description("The challenge ID to cancel")),
)
