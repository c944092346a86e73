package domain

// RuleConfig is an operator-defined custom rule layered on top of the built-in scorer.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL boolean expression to evaluate
	Expression string `json:"expression"`

	// Points added to the scripted score when the expression matches
	Score int `json:"score"`

	// Tags attached when the expression matches
	Tags []string `json:"tags"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleSignal is a matched custom rule as seen by the scorer.
type RuleSignal struct {
	RuleID string   `json:"ruleId"`
	Name   string   `json:"name"`
	Points int      `json:"points"`
	Tags   []string `json:"tags,omitempty"`
}
