package rules

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

// Points awarded by the built-in heuristics.
const (
	pointsLargeUnusual     = 55
	pointsAnonymousWallet  = 70
	pointsLowValueProbing  = 65
	pointsAnonymousSource  = 60
	pointsHighRiskLocation = 65
	pointsShadyMerchant    = 75
	pointsMerchantSpike    = 60
	pointsUserVelocity     = 40
	pointsChargebackAbuser = 55
	pointsImpossibleTravel = 85
	pointsLowAmountAnomaly = 45

	combinationStep       = 20
	combinationSmallTx    = 15
	combinationSmallBelow = 50.0
	lowAmountBelow        = 30.0

	maxScore = 100
)

const impossibleTravelWindow = 60 * time.Minute

// Contribution rule names.
const (
	RulePatternBonus     = "pattern_bonus"
	RuleHighRiskLocation = "high_risk_location"
	RuleShadyMerchant    = "suspicious_merchant"
	RuleMerchantSpike    = "merchant_velocity_spike"
	RuleUserVelocity     = "user_velocity_high"
	RuleChargebackAbuser = "chargeback_abuser"
	RuleImpossibleTravel = "impossible_travel"
	RuleCombinationRisk  = "combination_risk"
	RuleLowAmountAnomaly = "low_amount_anomaly"
	customRulePrefix     = "custom:"
)

var patternBonuses = map[domain.BehaviorPattern]struct {
	points int
	tags   []string
}{
	domain.PatternLargeUnusual:    {pointsLargeUnusual, []string{domain.TagUnusualBehavior, domain.TagHighAmount}},
	domain.PatternAnonymousWallet: {pointsAnonymousWallet, []string{domain.TagSyntheticID, domain.TagAnonymousSource}},
	domain.PatternLowValueProbing: {pointsLowValueProbing, []string{domain.TagSyntheticID, domain.TagLowAmountAnomaly, domain.TagProbingAttempt}},
	domain.PatternAnonymousSource: {pointsAnonymousSource, []string{domain.TagAnonymousSource, domain.TagLocationAnomaly, domain.TagVPNProxy}},
}

// combinationTags are counted for the combination bonus.
var combinationTags = []string{
	domain.TagAnonymousSource,
	domain.TagLocationAnomaly,
	domain.TagRiskyPaymentMethod,
	domain.TagUnknownMerchant,
}

// lowAmountTriggers make a small transaction suspicious.
var lowAmountTriggers = []string{
	domain.TagVPNProxy,
	domain.TagHighRiskLocation,
	domain.TagSuspiciousMerchant,
	domain.TagImpossibleTravel,
	domain.TagMerchantVelocitySpike,
	domain.TagHighUserVelocity,
	domain.TagChargebackAbuse,
	domain.TagCombinationRisk,
}

// NoiseSource supplies uniform draws in [0,1). *rand.Rand satisfies it.
type NoiseSource interface {
	Float64() float64
}

// Scorer accumulates the scripted risk score. It holds no per-request state.
type Scorer struct {
	noise NoiseSource
}

// NewScorer creates a scorer. A nil noise source uses the global generator.
func NewScorer(noise NoiseSource) *Scorer {
	return &Scorer{noise: noise}
}

// ScoreInput is everything the scorer looks at.
type ScoreInput struct {
	Tx               *domain.Transaction
	Pattern          domain.BehaviorPattern
	UserVelocity     domain.VelocityResult
	MerchantVelocity domain.VelocityResult

	// History is the user's prior activity. Records with the transaction's own ID are ignored.
	History []domain.RecentActivityRecord

	// Signals are matched custom rules.
	Signals []domain.RuleSignal
}

// Score computes the scripted ScoringResult. All heuristics are additive.
func (s *Scorer) Score(in ScoreInput) domain.ScoringResult {
	tx := in.Tx
	pattern := in.Pattern
	if !pattern.Valid() {
		pattern = domain.PatternStandardActivity
	}

	acc := &accumulator{tags: newTagSet()}

	if bonus, ok := patternBonuses[pattern]; ok {
		acc.add(RulePatternBonus, bonus.points, bonus.tags...)
	}

	if strings.Contains(tx.Location, "high-risk-country") {
		acc.add(RuleHighRiskLocation, pointsHighRiskLocation, domain.TagHighRiskLocation)
	}
	if strings.Contains(strings.ToLower(tx.MerchantID), "shady") {
		acc.add(RuleShadyMerchant, pointsShadyMerchant, domain.TagSuspiciousMerchant)
	}
	if in.MerchantVelocity.IsSpike {
		acc.add(RuleMerchantSpike, pointsMerchantSpike, domain.TagMerchantVelocitySpike)
	}
	if in.UserVelocity.IsHigh {
		acc.add(RuleUserVelocity, pointsUserVelocity, domain.TagHighUserVelocity)
	}
	if strings.Contains(tx.UserID, "chargeback_abuser") {
		acc.add(RuleChargebackAbuser, pointsChargebackAbuser, domain.TagChargebackAbuse)
	}
	if ImpossibleTravel(tx, in.History) {
		acc.add(RuleImpossibleTravel, pointsImpossibleTravel, domain.TagGeoAnomaly, domain.TagImpossibleTravel)
	}

	for _, sig := range in.Signals {
		acc.add(customRulePrefix+sig.RuleID, sig.Points, sig.Tags...)
	}

	distinct := 0
	for _, tag := range combinationTags {
		if acc.tags.has(tag) {
			distinct++
		}
	}
	if distinct >= 2 {
		points := combinationStep * (distinct - 1)
		if tx.Amount < combinationSmallBelow {
			points += combinationSmallTx
		}
		acc.add(RuleCombinationRisk, points, domain.TagCombinationRisk)
	}

	if tx.Amount < lowAmountBelow && acc.tags.hasAny(lowAmountTriggers) {
		acc.add(RuleLowAmountAnomaly, pointsLowAmountAnomaly, domain.TagLowAmountAnomaly, domain.TagSuspiciousLowValue)
	}

	score := clamp(acc.total)
	return domain.ScoringResult{
		RiskScore:              score,
		RiskTags:               acc.tags.list(),
		BehaviorPattern:        pattern,
		BehavioralAnomalyScore: clamp(int(math.Round(float64(score)*0.8 + s.draw()*20))),
		EntityTrustScore:       clamp(int(math.Round(100 - float64(score)*0.9))),
		Contributions:          acc.contributions,
	}
}

func (s *Scorer) draw() float64 {
	if s.noise != nil {
		return s.noise.Float64()
	}
	return rand.Float64()
}

// ImpossibleTravel reports whether the most recent prior record for the user was in a
// different location less than an hour away from the transaction.
func ImpossibleTravel(tx *domain.Transaction, history []domain.RecentActivityRecord) bool {
	if tx.UserID == "" {
		return false
	}

	var last *domain.RecentActivityRecord
	for i := range history {
		rec := &history[i]
		if rec.TransactionID != "" && rec.TransactionID == tx.ID {
			continue
		}
		if last == nil || rec.Timestamp.After(last.Timestamp) {
			last = rec
		}
	}
	if last == nil {
		return false
	}

	if sameLocation(last.Location, tx.Location) {
		return false
	}

	delta := tx.Timestamp.Sub(last.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta < impossibleTravelWindow
}

func sameLocation(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

type accumulator struct {
	total         int
	tags          *tagSet
	contributions []domain.Contribution
}

func (a *accumulator) add(rule string, points int, tags ...string) {
	a.total += points
	a.tags.add(tags...)
	a.contributions = append(a.contributions, domain.Contribution{
		Rule:   rule,
		Points: points,
		Tags:   tags,
	})
}

// tagSet keeps insertion order and drops duplicates.
type tagSet struct {
	seen  map[string]struct{}
	order []string
}

func newTagSet() *tagSet {
	return &tagSet{seen: make(map[string]struct{})}
}

func (t *tagSet) add(tags ...string) {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := t.seen[tag]; ok {
			continue
		}
		t.seen[tag] = struct{}{}
		t.order = append(t.order, tag)
	}
}

func (t *tagSet) has(tag string) bool {
	_, ok := t.seen[tag]
	return ok
}

func (t *tagSet) hasAny(tags []string) bool {
	for _, tag := range tags {
		if t.has(tag) {
			return true
		}
	}
	return false
}

func (t *tagSet) list() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// MergeTags unions tag lists preserving first-seen order.
func MergeTags(lists ...[]string) []string {
	set := newTagSet()
	for _, l := range lists {
		set.add(l...)
	}
	return set.list()
}
