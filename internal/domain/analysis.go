package domain

import (
	"time"
)

// BehaviorPattern is a fixed-vocabulary label classifying a transaction's shape.
type BehaviorPattern string

const (
	PatternAnonymousWallet  BehaviorPattern = "Anonymous Digital Wallet Use"
	PatternAnonymousSource  BehaviorPattern = "Anonymous Source/Location"
	PatternCryptocurrency   BehaviorPattern = "Cryptocurrency Transaction"
	PatternLargeUnusual     BehaviorPattern = "Large Unusual Transaction"
	PatternLowValueProbing  BehaviorPattern = "Low-Value Probing"
	PatternStandardActivity BehaviorPattern = "Standard Transaction Activity"
)

// BehaviorPatterns lists every valid pattern in classifier order.
var BehaviorPatterns = []BehaviorPattern{
	PatternAnonymousWallet,
	PatternAnonymousSource,
	PatternCryptocurrency,
	PatternLargeUnusual,
	PatternLowValueProbing,
	PatternStandardActivity,
}

// Valid reports whether p is one of the defined patterns.
func (p BehaviorPattern) Valid() bool {
	for _, known := range BehaviorPatterns {
		if p == known {
			return true
		}
	}
	return false
}

// Risk tags attached by the scorer and the agent.
const (
	TagUnusualBehavior       = "Unusual Behavior"
	TagHighAmount            = "High Amount"
	TagSyntheticID           = "Synthetic ID Risk"
	TagAnonymousSource       = "Anonymous Source"
	TagLowAmountAnomaly      = "Low Amount Anomaly"
	TagProbingAttempt        = "Probing Attempt"
	TagLocationAnomaly       = "Location Anomaly"
	TagVPNProxy              = "VPN/Proxy"
	TagHighRiskLocation      = "High-Risk Location"
	TagSuspiciousMerchant    = "Suspicious Merchant"
	TagMerchantVelocitySpike = "Merchant Velocity Spike"
	TagHighUserVelocity      = "High User Velocity"
	TagChargebackAbuse       = "Chargeback Abuse Risk"
	TagGeoAnomaly            = "Geo Anomaly"
	TagImpossibleTravel      = "Impossible Travel"
	TagRiskyPaymentMethod    = "Risky Payment Method"
	TagUnknownMerchant       = "Unknown/New Merchant"
	TagCombinationRisk       = "Combination Risk"
	TagSuspiciousLowValue    = "Suspicious Low Value Transaction"
)

// RiskLevel is the discrete verdict derived from a fused score.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "SAFE"
	RiskSuspicious RiskLevel = "SUSPICIOUS"
	RiskFraudulent RiskLevel = "FRAUDULENT"
)

// VelocityResult is the outcome of a velocity check for one entity.
type VelocityResult struct {
	EntityID   string     `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	Count      int64      `json:"count"`
	Threshold  int        `json:"threshold"`
	IsHigh     bool       `json:"isHigh"`
	IsSpike    bool       `json:"isSpike"`
	Simulated  bool       `json:"simulated,omitempty"`
}

// Contribution shows how a single rule moved the scripted score.
type Contribution struct {
	Rule   string   `json:"rule"`
	Points int      `json:"points"`
	Tags   []string `json:"tags,omitempty"`
}

// ScoringResult is the output of the rule-based risk scorer.
type ScoringResult struct {
	RiskScore              int             `json:"riskScore"`
	RiskTags               []string        `json:"riskTags"`
	BehaviorPattern        BehaviorPattern `json:"behaviorPattern"`
	BehavioralAnomalyScore int             `json:"behavioralAnomalyScore"`
	EntityTrustScore       int             `json:"entityTrustScore"`
	Contributions          []Contribution  `json:"contributions,omitempty"`
}

// ScoreBreakdown records the inputs and output of fusion.
type ScoreBreakdown struct {
	ScriptedScore int  `json:"scriptedScore"`
	AgentScore    *int `json:"agentScore,omitempty"`
	FusedScore    int  `json:"fusedScore"`
}

// FusedResult extends ScoringResult with the fused verdict. RiskScore holds the
// fused score; BehavioralAnomalyScore and EntityTrustScore still describe the
// scripted score, as recorded in Breakdown.ScriptedScore.
type FusedResult struct {
	ScoringResult
	RiskLevel    RiskLevel      `json:"riskLevel"`
	Confidence   int            `json:"confidence"`
	FusionMethod string         `json:"fusionMethod"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
}

// AgentAssessment is the agent investigator's independent view of a transaction.
type AgentAssessment struct {
	FraudRiskScore  int      `json:"fraudRiskScore"`
	RiskTags        []string `json:"riskTags"`
	BehaviorPattern string   `json:"behaviorPattern"`
	Justification   string   `json:"justification"`
	Backend         string   `json:"backend"`
	Simulated       bool     `json:"simulated"`
}

// Agent outcomes recorded on an analysis.
const (
	AgentOutcomeAnswered  = "answered"
	AgentOutcomeSimulated = "simulated"
	AgentOutcomeTimeout   = "timeout"
	AgentOutcomeDisabled  = "disabled"
)

// Analysis is the complete, persisted result of analysing one transaction.
type Analysis struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenantId"`
	TxID        string           `json:"txId"`
	Result      FusedResult      `json:"result"`
	Agent       *AgentAssessment `json:"agent,omitempty"`
	Explanation string           `json:"explanation"`
	Insight     string           `json:"insight"`
	Timestamp   time.Time        `json:"timestamp"`
	Metadata    AnalysisMetadata `json:"metadata"`
}

// AnalysisMetadata contains processing information.
type AnalysisMetadata struct {
	TraceID           string `json:"traceId"`
	ScoringMs         int64  `json:"scoringMs"`
	AgentMs           int64  `json:"agentMs"`
	TotalMs           int64  `json:"totalMs"`
	AgentOutcome      string `json:"agentOutcome"`
	VelocitySimulated bool   `json:"velocitySimulated,omitempty"`
	CustomRulesHit    int    `json:"customRulesHit"`
	EngineVersion     string `json:"engineVersion"`
}

// AnalysisResponse is the API response for a transaction analysis.
type AnalysisResponse struct {
	AnalysisID      string           `json:"analysisId"`
	TxID            string           `json:"txId"`
	TenantID        string           `json:"tenantId"`
	RiskScore       int              `json:"riskScore"`
	RiskLevel       RiskLevel        `json:"riskLevel"`
	RiskTags        []string         `json:"riskTags"`
	BehaviorPattern BehaviorPattern  `json:"behaviorPattern"`
	Confidence      int              `json:"confidence"`
	Breakdown       ScoreBreakdown   `json:"breakdown"`
	FusionMethod    string           `json:"fusionMethod"`
	Explanation     string           `json:"explanation"`
	Insight         string           `json:"insight"`
	Metadata        AnalysisMetadata `json:"metadata"`
}

// ToResponse converts an Analysis to an API response.
func (a *Analysis) ToResponse() *AnalysisResponse {
	return &AnalysisResponse{
		AnalysisID:      a.ID,
		TxID:            a.TxID,
		TenantID:        a.TenantID,
		RiskScore:       a.Result.Breakdown.FusedScore,
		RiskLevel:       a.Result.RiskLevel,
		RiskTags:        a.Result.RiskTags,
		BehaviorPattern: a.Result.BehaviorPattern,
		Confidence:      a.Result.Confidence,
		Breakdown:       a.Result.Breakdown,
		FusionMethod:    a.Result.FusionMethod,
		Explanation:     a.Explanation,
		Insight:         a.Insight,
		Metadata:        a.Metadata,
	}
}
