package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/velocity"
)

// Tool names exposed to the reasoning backend and over MCP.
const (
	ToolNameRecentTransactions = "get_recent_transactions"
	ToolNameMerchantVelocity   = "check_merchant_velocity"
)

const (
	defaultToolLimit = 10
	maxToolLimit     = 50
)

// Tool definitions shared by the agent loop and the MCP server.
var ToolRecentTransactions = mcp.NewTool(ToolNameRecentTransactions,
	mcp.WithDescription(
		"List a user's most recent transactions (newest first) with timestamp, location, amount and merchant. "+
			"Use it to spot impossible travel and bursts of activity."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user whose history to fetch")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of records to return (default 10, max 50)")),
	mcp.WithString("before",
		mcp.Description("Only return records strictly before this RFC3339 time (default: now)")),
	mcp.WithString("tenant_id",
		mcp.Description("Tenant to query (default: the server's tenant)")),
)

var ToolMerchantVelocity = mcp.NewTool(ToolNameMerchantVelocity,
	mcp.WithDescription(
		"Count a merchant's transactions in the last 60 minutes and report whether volume is high (>100) "+
			"or spiking (>200)."),
	mcp.WithString("merchant_id",
		mcp.Required(),
		mcp.Description("The merchant to check")),
	mcp.WithString("at",
		mcp.Description("End of the lookback window as RFC3339 (default: now)")),
	mcp.WithString("tenant_id",
		mcp.Description("Tenant to query (default: the server's tenant)")),
)

// ToolSet implements the investigation tools against the transaction store.
type ToolSet struct {
	store         domain.TransactionStore
	checker       *velocity.Checker
	clock         clockwork.Clock
	defaultTenant string
}

// NewToolSet creates the tool handlers. store may be nil, in which case history is
// unavailable and merchant velocity is simulated.
func NewToolSet(store domain.TransactionStore, checker *velocity.Checker, clock clockwork.Clock, defaultTenant string) *ToolSet {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if checker == nil {
		checker = velocity.NewChecker(store, nil, nil)
	}
	return &ToolSet{
		store:         store,
		checker:       checker,
		clock:         clock,
		defaultTenant: defaultTenant,
	}
}

// Tools lists the tool definitions in a stable order.
func (t *ToolSet) Tools() []mcp.Tool {
	return []mcp.Tool{ToolRecentTransactions, ToolMerchantVelocity}
}

// Call dispatches a tool by name.
func (t *ToolSet) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	switch name {
	case ToolNameRecentTransactions:
		return t.HandleRecentTransactions(ctx, req)
	case ToolNameMerchantVelocity:
		return t.HandleMerchantVelocity(ctx, req)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool %q", name)), nil
	}
}

// HandleRecentTransactions returns the user's recent activity as JSON.
func (t *ToolSet) HandleRecentTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	tenantID := req.GetString("tenant_id", t.defaultTenant)
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	before, err := t.timeArg(req, "before")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := req.GetInt("limit", defaultToolLimit)
	if limit <= 0 {
		limit = defaultToolLimit
	}
	limit = min(limit, maxToolLimit)

	if t.store == nil {
		return mcp.NewToolResultError("transaction history is unavailable"), nil
	}

	records, err := t.store.QueryRecentByUser(ctx, tenantID, userID, before, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch transactions: %v", err)), nil
	}
	if records == nil {
		records = []domain.RecentActivityRecord{}
	}

	return jsonResult(map[string]any{
		"userId":       userID,
		"count":        len(records),
		"transactions": records,
	})
}

// HandleMerchantVelocity returns the merchant's velocity check as JSON.
func (t *ToolSet) HandleMerchantVelocity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	merchantID := req.GetString("merchant_id", "")
	if merchantID == "" {
		return mcp.NewToolResultError("merchant_id is required"), nil
	}
	tenantID := req.GetString("tenant_id", t.defaultTenant)
	if tenantID == "" {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	at, err := t.timeArg(req, "at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := t.checker.Check(ctx, tenantID, merchantID, domain.EntityMerchant, at)
	return jsonResult(result)
}

func (t *ToolSet) timeArg(req mcp.CallToolRequest, name string) (time.Time, error) {
	raw := req.GetString(name, "")
	if raw == "" {
		return t.clock.Now(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %v", name, err)
	}
	return ts, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// ResultText joins the text blocks of a tool result.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var out string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}
