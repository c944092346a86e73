package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"

	"github.com/opensource-finance/fraudsentry/internal/behavior"
	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/llm"
	"github.com/opensource-finance/fraudsentry/internal/rules"
)

const defaultMaxToolRounds = 4

// ErrNoAnswer is returned when the backend runs out of tool rounds without a verdict.
var ErrNoAnswer = errors.New("agent: no assessment after tool rounds")

const systemPrompt = `You are a payment fraud investigator. Assess the transaction you are given.
Use the tools to look at the user's recent transactions and the merchant's velocity before deciding.

Score bands: 0-30 safe, 31-69 suspicious, 70-100 fraudulent.
Heuristics to weigh: amounts above 1000 or below 10, anonymous or "unknown" sources, VPN locations,
crypto and anonymous wallet payments, locations containing "high-risk-country", merchants containing
"shady", more than 4 user transactions in 15 minutes, more than 200 merchant transactions in an hour,
a previous transaction in a different location less than 60 minutes earlier.

Reply with a single JSON object:
{"fraudRiskScore": <0-100>, "riskTags": [<short tags>], "behaviorPattern": "<one of: %s>", "justification": "<two sentences>"}`

// OpenAIBackend investigates with an OpenAI chat model that can call the investigation tools.
type OpenAIBackend struct {
	client    llm.Completer
	model     string
	tools     *ToolSet
	maxRounds int
	logger    *slog.Logger
}

// NewOpenAIBackend creates the backend. A nil client leaves it unconfigured.
func NewOpenAIBackend(client llm.Completer, model string, tools *ToolSet, maxRounds int, logger *slog.Logger) *OpenAIBackend {
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIBackend{
		client:    client,
		model:     model,
		tools:     tools,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Configured implements Backend.
func (b *OpenAIBackend) Configured() bool {
	return b != nil && b.client != nil
}

// Assess runs the tool loop until the model answers with an assessment.
func (b *OpenAIBackend) Assess(ctx context.Context, tx *domain.Transaction) (*domain.AgentAssessment, error) {
	if !b.Configured() {
		return nil, llm.ErrNotConfigured
	}

	txJSON, err := json.Marshal(map[string]any{
		"id":            tx.ID,
		"amount":        tx.Amount,
		"source":        tx.Source,
		"merchantId":    tx.MerchantID,
		"paymentMethod": tx.PaymentMethod,
		"location":      tx.Location,
		"userId":        tx.UserID,
		"timestamp":     tx.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("agent: encode transaction: %w", err)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, patternList())},
		{Role: openai.ChatMessageRoleUser, Content: "Transaction:\n" + string(txJSON)},
	}

	var tools []openai.Tool
	if b.tools != nil {
		tools, err = openAITools(b.tools.Tools())
		if err != nil {
			return nil, err
		}
	}

	for round := 0; round <= b.maxRounds; round++ {
		req := openai.ChatCompletionRequest{
			Model:    b.model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		}
		// The last round must answer.
		if round < b.maxRounds {
			req.Tools = tools
		}

		resp, err := b.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("agent: chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("agent: empty completion")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return parseAssessment(msg.Content, tx)
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    b.runTool(ctx, tx, call),
				ToolCallID: call.ID,
			})
		}
	}

	return nil, ErrNoAnswer
}

// runTool executes one tool call scoped to the transaction's tenant and time.
func (b *OpenAIBackend) runTool(ctx context.Context, tx *domain.Transaction, call openai.ToolCall) string {
	if b.tools == nil {
		return `{"error":"tools unavailable"}`
	}

	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf(`{"error":%q}`, "invalid arguments: "+err.Error())
		}
	}
	args["tenant_id"] = tx.TenantID
	switch call.Function.Name {
	case ToolNameRecentTransactions:
		args["before"] = tx.Timestamp.Format(time.RFC3339Nano)
	case ToolNameMerchantVelocity:
		args["at"] = tx.Timestamp.Format(time.RFC3339Nano)
	}

	result, err := b.tools.Call(ctx, call.Function.Name, args)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	b.logger.Debug("agent tool call",
		"tenant_id", tx.TenantID,
		"tx_id", tx.ID,
		"tool", call.Function.Name,
		"is_error", result.IsError,
	)
	return ResultText(result)
}

// openAITools converts MCP tool definitions into OpenAI function tools.
func openAITools(defs []mcp.Tool) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("agent: encode schema for %s: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(schema),
			},
		})
	}
	return tools, nil
}

type rawAssessment struct {
	FraudRiskScore  float64  `json:"fraudRiskScore"`
	RiskTags        []string `json:"riskTags"`
	BehaviorPattern string   `json:"behaviorPattern"`
	Justification   string   `json:"justification"`
}

// parseAssessment decodes and normalizes the model's answer.
func parseAssessment(content string, tx *domain.Transaction) (*domain.AgentAssessment, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawAssessment
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, fmt.Errorf("agent: decode assessment: %w", err)
	}

	score := int(math.Round(raw.FraudRiskScore))
	score = max(0, min(100, score))

	pattern := domain.BehaviorPattern(raw.BehaviorPattern)
	if !pattern.Valid() {
		pattern = behavior.ClassifyTransaction(tx)
	}

	return &domain.AgentAssessment{
		FraudRiskScore:  score,
		RiskTags:        rules.MergeTags(raw.RiskTags),
		BehaviorPattern: string(pattern),
		Justification:   strings.TrimSpace(raw.Justification),
		Backend:         "openai",
	}, nil
}

func patternList() string {
	names := make([]string, len(domain.BehaviorPatterns))
	for i, p := range domain.BehaviorPatterns {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
