// Package fusion merges the scripted score with the agent's score into a final verdict.
package fusion

import (
	"math"

	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/rules"
)

// Fusion methods, reported on every result.
const (
	MethodScripted     = "Scripted Foundation"
	MethodConsensus    = "Consensus Fusion"
	MethodRuleWeighted = "Rule-Weighted Fusion"
	MethodIntelligence = "Intelligence-Enhanced Fusion"
)

// Level thresholds.
const (
	FraudulentThreshold = 70
	SuspiciousThreshold = 35
)

const (
	consensusGap = 15

	baseConfidence = 85
	closeGap       = 10
	closeBonus     = 10
	nearGap        = 25
	nearBonus      = 5
	maxConfidence  = 98
)

// Decision is the outcome of fusing two scores.
type Decision struct {
	Score      int
	Level      domain.RiskLevel
	Confidence int
	Method     string
}

// Fuse combines the scripted score s with an optional agent score a.
func Fuse(s int, a *int) Decision {
	s = clamp(s)
	if a == nil {
		return Decision{
			Score:      s,
			Level:      LevelFor(s),
			Confidence: baseConfidence,
			Method:     MethodScripted,
		}
	}

	agent := clamp(*a)
	sf, af := float64(s), float64(agent)
	gap := abs(s - agent)

	var score float64
	var method string
	switch {
	case gap <= consensusGap:
		score = math.Max(sf, af)*0.6 + (sf+af)/2*0.4
		method = MethodConsensus
	case s > agent:
		score = sf*0.7 + af*0.3
		method = MethodRuleWeighted
	default:
		score = af*0.6 + sf*0.4
		method = MethodIntelligence
	}

	final := clamp(int(math.Round(score)))
	return Decision{
		Score:      final,
		Level:      LevelFor(final),
		Confidence: confidence(gap),
		Method:     method,
	}
}

// LevelFor maps a score to a risk level.
func LevelFor(score int) domain.RiskLevel {
	switch {
	case score >= FraudulentThreshold:
		return domain.RiskFraudulent
	case score >= SuspiciousThreshold:
		return domain.RiskSuspicious
	default:
		return domain.RiskSafe
	}
}

func confidence(gap int) int {
	c := baseConfidence
	if gap <= closeGap {
		c += closeBonus
	} else if gap <= nearGap {
		c += nearBonus
	}
	return min(c, maxConfidence)
}

// Processor builds the fused result from the scripted result and the agent assessment.
type Processor struct {
	// FuseSimulated lets mock agent assessments move the score.
	FuseSimulated bool
}

// NewProcessor creates a new fusion processor.
func NewProcessor(fuseSimulated bool) *Processor {
	return &Processor{FuseSimulated: fuseSimulated}
}

// Accepts reports whether an agent assessment takes part in fusion.
func (p *Processor) Accepts(agent *domain.AgentAssessment) bool {
	if agent == nil {
		return false
	}
	return !agent.Simulated || p.FuseSimulated
}

// Process fuses the scripted result with the agent assessment. A nil or rejected
// assessment yields the scripted foundation. Agent tags join the tag set only when
// the agent score is fused.
func (p *Processor) Process(scripted domain.ScoringResult, agent *domain.AgentAssessment) domain.FusedResult {
	var agentScore *int
	tags := scripted.RiskTags
	if p.Accepts(agent) {
		a := clamp(agent.FraudRiskScore)
		agentScore = &a
		tags = rules.MergeTags(scripted.RiskTags, agent.RiskTags)
	}

	d := Fuse(scripted.RiskScore, agentScore)

	result := domain.FusedResult{
		ScoringResult: scripted,
		RiskLevel:     d.Level,
		Confidence:    d.Confidence,
		FusionMethod:  d.Method,
		Breakdown: domain.ScoreBreakdown{
			ScriptedScore: scripted.RiskScore,
			AgentScore:    agentScore,
			FusedScore:    d.Score,
		},
	}
	// Sub-scores stay scripted-derived; see domain.FusedResult.
	result.RiskScore = d.Score
	result.RiskTags = tags
	if result.RiskTags == nil {
		result.RiskTags = []string{}
	}
	return result
}

// ShouldAlert returns true if the result should trigger an alert.
func ShouldAlert(result domain.FusedResult) bool {
	return result.RiskLevel == domain.RiskFraudulent
}

func clamp(v int) int {
	return max(0, min(100, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
