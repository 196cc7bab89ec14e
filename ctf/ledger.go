package ctf

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrConditionExists   = errors.New("ctf: condition already prepared")
	ErrConditionMissing  = errors.New("ctf: condition not prepared")
	ErrAlreadyReported   = errors.New("ctf: payouts already reported")
	ErrInvalidSlotCount  = errors.New("ctf: outcome slot count out of range")
	ErrEmptyPayoutVector = errors.New("ctf: payout vector must have a positive sum")
)

// Condition is a prepared outcome collection. Payouts stay nil until the
// oracle reports; a reported condition is immutable.
type Condition struct {
	ID         [32]byte
	Oracle     [20]byte
	QuestionID [32]byte
	SlotCount  int
	Payouts    []uint64
}

// Reported reports whether payouts have been written for the condition.
func (c *Condition) Reported() bool { return c != nil && len(c.Payouts) > 0 }

// Clone returns a deep copy of the condition.
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Payouts = append([]uint64(nil), c.Payouts...)
	return &clone
}

// ConditionID derives the identifier for an (oracle, question, slot count)
// tuple.
func ConditionID(oracle [20]byte, questionID [32]byte, slotCount int) [32]byte {
	return ethcrypto.Keccak256Hash(oracle[:], questionID[:], []byte{byte(slotCount)})
}

// Ledger is the in-process conditional-token registry the adapter reports
// into. Conditions are write-once: preparing the same tuple twice or
// reporting payouts twice fails.
type Ledger struct {
	mu         sync.Mutex
	conditions map[[32]byte]*Condition
	byQuestion map[[32]byte][32]byte
}

// NewLedger constructs an empty registry.
func NewLedger() *Ledger {
	return &Ledger{
		conditions: make(map[[32]byte]*Condition),
		byQuestion: make(map[[32]byte][32]byte),
	}
}

// PrepareCondition registers an outcome collection for the question. Binary
// markets use two slots; anything outside [2, 256] is rejected.
func (l *Ledger) PrepareCondition(oracle [20]byte, questionID [32]byte, outcomeSlots int) error {
	if outcomeSlots < 2 || outcomeSlots > 256 {
		return fmt.Errorf("%w: %d", ErrInvalidSlotCount, outcomeSlots)
	}
	id := ConditionID(oracle, questionID, outcomeSlots)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.conditions[id]; ok {
		return ErrConditionExists
	}
	l.conditions[id] = &Condition{
		ID:         id,
		Oracle:     oracle,
		QuestionID: questionID,
		SlotCount:  outcomeSlots,
	}
	l.byQuestion[questionID] = id
	return nil
}

// ReportPayouts writes the final payout vector for the binary condition keyed
// by the question. The write succeeds at most once per condition.
func (l *Ledger) ReportPayouts(questionID [32]byte, payouts [2]uint64) error {
	if payouts[0]+payouts[1] == 0 {
		return ErrEmptyPayoutVector
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byQuestion[questionID]
	if !ok {
		return ErrConditionMissing
	}
	cond := l.conditions[id]
	if cond.Reported() {
		return ErrAlreadyReported
	}
	cond.Payouts = []uint64{payouts[0], payouts[1]}
	return nil
}

// Condition returns a copy of the condition prepared for the question.
func (l *Ledger) Condition(questionID [32]byte) (*Condition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byQuestion[questionID]
	if !ok {
		return nil, false
	}
	return l.conditions[id].Clone(), true
}
