package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"ctfadapter/core/types"
)

const (
	EventTypeInitialized       = "market.initialized"
	EventTypeReset             = "market.reset"
	EventTypeResolved          = "market.resolved"
	EventTypeFlagged           = "market.flagged"
	EventTypePaused            = "market.paused"
	EventTypeUnpaused          = "market.unpaused"
	EventTypeEmergencyResolved = "market.emergency_resolved"
)

// NewInitializedEvent returns the canonical payload for a newly registered
// question.
func NewInitializedEvent(q *Question) *types.Event {
	return newQuestionEvent(EventTypeInitialized, q)
}

// NewResetEvent returns the payload emitted when a dispute (or the admin
// failsafe) re-issues the oracle request under a new timestamp.
func NewResetEvent(q *Question) *types.Event { return newQuestionEvent(EventTypeReset, q) }

// NewFlaggedEvent returns the payload emitted when an admin flags a question
// for emergency resolution.
func NewFlaggedEvent(q *Question) *types.Event { return newQuestionEvent(EventTypeFlagged, q) }

// NewPausedEvent returns the payload emitted when resolution is suspended.
func NewPausedEvent(q *Question) *types.Event { return newQuestionEvent(EventTypePaused, q) }

// NewUnpausedEvent returns the payload emitted when resolution is resumed.
func NewUnpausedEvent(q *Question) *types.Event { return newQuestionEvent(EventTypeUnpaused, q) }

// NewResolvedEvent returns the payload emitted on oracle-driven resolution,
// carrying the settled price and the reported payout vector.
func NewResolvedEvent(q *Question, price *big.Int, payouts [2]uint64) *types.Event {
	evt := newQuestionEvent(EventTypeResolved, q)
	if price != nil {
		evt.Attributes["price"] = price.String()
	}
	addPayouts(evt, payouts)
	return evt
}

// NewEmergencyResolvedEvent returns the payload emitted when an admin reports
// a payout vector directly, bypassing the oracle.
func NewEmergencyResolvedEvent(q *Question, payouts [2]uint64) *types.Event {
	evt := newQuestionEvent(EventTypeEmergencyResolved, q)
	addPayouts(evt, payouts)
	return evt
}

func addPayouts(evt *types.Event, payouts [2]uint64) {
	evt.Attributes["payoutYes"] = strconv.FormatUint(payouts[0], 10)
	evt.Attributes["payoutNo"] = strconv.FormatUint(payouts[1], 10)
	evt.Attributes["outcome"] = OutcomeLabel(payouts)
}

func newQuestionEvent(eventType string, q *Question) *types.Event {
	attrs := make(map[string]string)
	if q == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["questionId"] = hex.EncodeToString(q.ID[:])
	attrs["requestTimestamp"] = strconv.FormatInt(q.RequestTimestamp, 10)
	attrs["creator"] = hex.EncodeToString(q.Creator[:])
	attrs["rewardToken"] = hex.EncodeToString(q.RewardToken[:])
	if q.Reward != nil {
		attrs["reward"] = q.Reward.String()
	}
	if q.ProposalBond != nil {
		attrs["proposalBond"] = q.ProposalBond.String()
	}
	if q.Flagged() {
		attrs["emergencyTimestamp"] = strconv.FormatInt(q.EmergencyTimestamp, 10)
	}
	attrs["resolved"] = strconv.FormatBool(q.Resolved)
	attrs["paused"] = strconv.FormatBool(q.Paused)
	return &types.Event{Type: eventType, Attributes: attrs}
}
