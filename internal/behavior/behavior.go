// Package behavior classifies transactions into a fixed set of behavior patterns.
package behavior

import (
	"strings"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

const (
	paymentDigitalWallet = "digital_wallet"
	paymentCrypto        = "crypto"

	anonymousWalletMarker = "virtual wallet xz-"
	unknownSource         = "unknown"
	vpnMarker             = "vpn"

	largeAmount   = 1000.0
	probingAmount = 10.0
)

// Classify maps transaction attributes to a behavior pattern.
// Predicates are evaluated in order and the first match wins.
func Classify(amount float64, source, paymentMethod, location string) domain.BehaviorPattern {
	switch {
	case paymentMethod == paymentDigitalWallet &&
		strings.Contains(strings.ToLower(source), anonymousWalletMarker):
		return domain.PatternAnonymousWallet
	case source == unknownSource || strings.Contains(strings.ToLower(location), vpnMarker):
		return domain.PatternAnonymousSource
	case paymentMethod == paymentCrypto:
		return domain.PatternCryptocurrency
	case amount > largeAmount:
		return domain.PatternLargeUnusual
	case amount < probingAmount:
		return domain.PatternLowValueProbing
	default:
		return domain.PatternStandardActivity
	}
}

// ClassifyTransaction is Classify over a Transaction.
func ClassifyTransaction(tx *domain.Transaction) domain.BehaviorPattern {
	return Classify(tx.Amount, tx.Source, tx.PaymentMethod, tx.Location)
}
