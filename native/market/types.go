package market

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RoleMarketAdmin gates the escalation, pause and reset failsafe paths.
const RoleMarketAdmin = "ROLE_MARKET_ADMIN"

const (
	// MaxAncillaryLen bounds the resolution payload handed to the oracle.
	// The oracle's ancillary hard cap minus the room reserved for the
	// adapter prefix it appends on re-requests.
	MaxAncillaryLen = 8139

	// DefaultSafetyPeriod is the delay between flagging a question and the
	// earliest permitted emergency override.
	DefaultSafetyPeriod = int64(2 * 24 * 60 * 60)
)

// Canonical settled prices, signed 1e18 fixed point. The oracle restricts
// event-based binary requests to exactly these three values.
var (
	PriceNo      = big.NewInt(0)
	PriceUnknown = new(big.Int).SetUint64(500_000_000_000_000_000)
	PriceYes     = new(big.Int).SetUint64(1_000_000_000_000_000_000)
)

// Question captures the immutable resolution parameters and runtime flags of a
// single market question. The identifier is the keccak256 hash of the adapter
// identity and the ancillary data, so a payload can be registered at most once
// per adapter. A record whose AncillaryData is empty is treated as absent;
// there is no separate existence bit and no deletion path.
type Question struct {
	ID                 [32]byte
	RequestTimestamp   int64
	AncillaryData      []byte
	RewardToken        [20]byte
	Reward             *big.Int
	ProposalBond       *big.Int
	EmergencyTimestamp int64
	Resolved           bool
	Paused             bool
	Creator            [20]byte
}

// QuestionID derives the deterministic question fingerprint from the adapter
// identity and the resolution payload.
func QuestionID(adapter [20]byte, ancillaryData []byte) [32]byte {
	return ethcrypto.Keccak256Hash(adapter[:], ancillaryData)
}

// Initialized reports whether the record represents a registered question.
func (q *Question) Initialized() bool {
	return q != nil && len(q.AncillaryData) > 0
}

// Flagged reports whether an admin has marked the question for emergency
// resolution.
func (q *Question) Flagged() bool {
	return q != nil && q.EmergencyTimestamp > 0
}

// Clone returns a deep copy of the question so callers can safely mutate the
// copy without affecting the stored instance.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	clone := *q
	clone.AncillaryData = append([]byte(nil), q.AncillaryData...)
	if q.Reward != nil {
		clone.Reward = new(big.Int).Set(q.Reward)
	} else {
		clone.Reward = big.NewInt(0)
	}
	if q.ProposalBond != nil {
		clone.ProposalBond = new(big.Int).Set(q.ProposalBond)
	} else {
		clone.ProposalBond = big.NewInt(0)
	}
	return &clone
}

// SanitizeQuestion validates the supplied record and returns a cloned instance
// with non-nil amount fields. The original value is not mutated.
func SanitizeQuestion(q *Question) (*Question, error) {
	if q == nil {
		return nil, fmt.Errorf("nil question")
	}
	clone := q.Clone()
	if len(clone.AncillaryData) == 0 {
		return nil, ErrInvalidAncillary
	}
	if len(clone.AncillaryData) > MaxAncillaryLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidAncillary, len(clone.AncillaryData))
	}
	if clone.Reward.Sign() < 0 {
		return nil, fmt.Errorf("question reward must be non-negative")
	}
	if clone.ProposalBond.Sign() < 0 {
		return nil, fmt.Errorf("question bond must be non-negative")
	}
	if clone.RequestTimestamp < 0 {
		return nil, fmt.Errorf("invalid request timestamp: %d", clone.RequestTimestamp)
	}
	if clone.EmergencyTimestamp < 0 {
		return nil, fmt.Errorf("invalid emergency timestamp: %d", clone.EmergencyTimestamp)
	}
	return clone, nil
}

// StaticWhitelist is a fixed reward-token whitelist assembled at startup.
type StaticWhitelist map[[20]byte]struct{}

// NewStaticWhitelist builds a whitelist from the supplied token accounts.
func NewStaticWhitelist(tokens ...[20]byte) StaticWhitelist {
	wl := make(StaticWhitelist, len(tokens))
	for _, token := range tokens {
		wl[token] = struct{}{}
	}
	return wl
}

// IsOnWhitelist implements the TokenWhitelist interface.
func (w StaticWhitelist) IsOnWhitelist(token [20]byte) bool {
	_, ok := w[token]
	return ok
}
