package market

import (
	"fmt"
	"math/big"
	"time"

	"ctfadapter/core/events"
	"ctfadapter/core/types"
)

type engineState interface {
	QuestionPut(*Question) error
	QuestionGet(id [32]byte) (*Question, bool)
	Transfer(token [20]byte, from, to [20]byte, amount *big.Int) error
	HasRole(role string, addr []byte) bool
}

// PriceRequest carries the full parameter set of an oracle price request.
// EventBased requests settle on the first undisputed proposal; the dispute
// callback is the only callback the adapter subscribes to.
type PriceRequest struct {
	Requester       [20]byte
	Timestamp       int64
	AncillaryData   []byte
	RewardToken     [20]byte
	Reward          *big.Int
	Bond            *big.Int
	EventBased      bool
	DisputeCallback bool
}

// OracleGateway is the consumed surface of the optimistic dispute oracle.
// Requests are identified by (requester, timestamp, ancillary data).
type OracleGateway interface {
	RequestPrice(req *PriceRequest) error
	HasPrice(requester [20]byte, timestamp int64, ancillaryData []byte) bool
	SettleAndGetPrice(requester [20]byte, timestamp int64, ancillaryData []byte) (*big.Int, error)
}

// ConditionReporter is the consumed surface of the conditional-token ledger.
type ConditionReporter interface {
	PrepareCondition(oracle [20]byte, questionID [32]byte, outcomeSlots int) error
	ReportPayouts(questionID [32]byte, payouts [2]uint64) error
}

// TokenWhitelist answers whether a reward token may be used for requests.
type TokenWhitelist interface {
	IsOnWhitelist(token [20]byte) bool
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine drives the question lifecycle: initialization, oracle request
// issuance, dispute-triggered reset, settlement and payout reporting, plus the
// admin escalation and pause paths. All operations are synchronous and either
// fully commit against the configured state or return an error with no
// partial mutation.
type Engine struct {
	state        engineState
	oracle       OracleGateway
	conditions   ConditionReporter
	whitelist    TokenWhitelist
	emitter      events.Emitter
	self         [20]byte
	oracleAddr   [20]byte
	safetyPeriod int64
	maxAncillary int
	nowFn        func() int64
}

// NewEngine creates a resolution engine bound to the given adapter identity,
// with a no-op emitter and the default safety period. Collaborators are wired
// through the Set* methods before first use.
func NewEngine(self [20]byte) *Engine {
	return &Engine{
		self:         self,
		emitter:      events.NoopEmitter{},
		safetyPeriod: DefaultSafetyPeriod,
		maxAncillary: MaxAncillaryLen,
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// Address returns the adapter identity used for fingerprints and condition
// preparation.
func (e *Engine) Address() [20]byte { return e.self }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle configures the oracle gateway and records the identity trusted to
// invoke the dispute callback.
func (e *Engine) SetOracle(oracle OracleGateway, addr [20]byte) {
	e.oracle = oracle
	e.oracleAddr = addr
}

// SetConditions configures the condition ledger receiving payout reports.
func (e *Engine) SetConditions(conditions ConditionReporter) { e.conditions = conditions }

// SetWhitelist configures the reward-token whitelist consulted on initialize.
func (e *Engine) SetWhitelist(whitelist TokenWhitelist) { e.whitelist = whitelist }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetSafetyPeriod overrides the delay enforced between flagging and emergency
// resolution. Non-positive values restore the default.
func (e *Engine) SetSafetyPeriod(seconds int64) {
	if seconds <= 0 {
		e.safetyPeriod = DefaultSafetyPeriod
		return
	}
	e.safetyPeriod = seconds
}

// SetMaxAncillaryLen lowers the accepted ancillary payload size. The oracle
// hard cap is the ceiling; values outside (0, MaxAncillaryLen] restore it.
func (e *Engine) SetMaxAncillaryLen(n int) {
	if n <= 0 || n > MaxAncillaryLen {
		e.maxAncillary = MaxAncillaryLen
		return
	}
	e.maxAncillary = n
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ensureWired() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.oracle == nil:
		return errNilOracle
	case e.conditions == nil:
		return errNilConditions
	case e.whitelist == nil:
		return errNilWhitelist
	default:
		return nil
	}
}

func (e *Engine) loadQuestion(id [32]byte) (*Question, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	q, ok := e.state.QuestionGet(id)
	if !ok || !q.Initialized() {
		return nil, ErrNotInitialized
	}
	return q, nil
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.HasRole(RoleMarketAdmin, caller[:]) {
		return ErrUnauthorized
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Initialize registers a new question, prepares its two-outcome condition and
// issues the initial oracle price request. A nonzero reward is pulled from the
// creator into the adapter account before the request is placed, so a failed
// transfer aborts the whole operation. The record is persisted before any
// external call so a reentrant initialize observes the existing fingerprint
// and is rejected.
func (e *Engine) Initialize(creator [20]byte, ancillaryData []byte, rewardToken [20]byte, reward, proposalBond *big.Int) (*Question, error) {
	if err := e.ensureWired(); err != nil {
		return nil, err
	}
	if !e.whitelist.IsOnWhitelist(rewardToken) {
		return nil, ErrUnsupportedToken
	}
	if len(ancillaryData) == 0 || len(ancillaryData) > e.maxAncillary {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidAncillary, len(ancillaryData))
	}
	id := QuestionID(e.self, ancillaryData)
	if existing, ok := e.state.QuestionGet(id); ok && existing.Initialized() {
		return nil, ErrAlreadyInitialized
	}
	q := &Question{
		ID:               id,
		RequestTimestamp: e.now(),
		AncillaryData:    append([]byte(nil), ancillaryData...),
		RewardToken:      rewardToken,
		Reward:           cloneBigInt(reward),
		ProposalBond:     cloneBigInt(proposalBond),
		Creator:          creator,
	}
	sanitized, err := SanitizeQuestion(q)
	if err != nil {
		return nil, err
	}
	// Pull the reward first: the transfer is all-or-nothing, so a funding
	// failure leaves no record behind. The record write still precedes every
	// external call, closing the reentrancy window on initialize.
	if sanitized.Reward.Sign() > 0 {
		if err := e.state.Transfer(sanitized.RewardToken, creator, e.self, sanitized.Reward); err != nil {
			return nil, fmt.Errorf("market: pull reward: %w", err)
		}
	}
	if err := e.state.QuestionPut(sanitized); err != nil {
		return nil, err
	}
	if err := e.conditions.PrepareCondition(e.self, id, 2); err != nil {
		return nil, fmt.Errorf("market: prepare condition: %w", err)
	}
	if err := e.requestPrice(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(sanitized))
	return sanitized.Clone(), nil
}

func (e *Engine) requestPrice(q *Question) error {
	req := &PriceRequest{
		Requester:       e.self,
		Timestamp:       q.RequestTimestamp,
		AncillaryData:   append([]byte(nil), q.AncillaryData...),
		RewardToken:     q.RewardToken,
		Reward:          cloneBigInt(q.Reward),
		Bond:            cloneBigInt(q.ProposalBond),
		EventBased:      true,
		DisputeCallback: true,
	}
	if err := e.oracle.RequestPrice(req); err != nil {
		return fmt.Errorf("market: request price: %w", err)
	}
	return nil
}

// HandleDispute is the inbound callback the oracle invokes when a proposal on
// one of the adapter's requests is disputed. Only the configured oracle
// identity is accepted; any other caller is rejected with no state change.
// A dispute does not by itself indicate fundamental disagreement, so the
// question is reset: a fresh request is issued under a new timestamp and every
// other field is preserved. Escalation after a dispute on the re-issued
// request is the oracle's own concern.
func (e *Engine) HandleDispute(caller [20]byte, ancillaryData []byte) error {
	if err := e.ensureWired(); err != nil {
		return err
	}
	if caller != e.oracleAddr {
		return ErrNotOracle
	}
	q, err := e.loadQuestion(QuestionID(e.self, ancillaryData))
	if err != nil {
		return err
	}
	return e.reset(q)
}

// Reset is the admin failsafe for a stuck dispute callback. It performs the
// same transition as HandleDispute, bypassing the oracle-identity check.
func (e *Engine) Reset(caller [20]byte, id [32]byte) error {
	if err := e.ensureWired(); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	q, err := e.loadQuestion(id)
	if err != nil {
		return err
	}
	return e.reset(q)
}

func (e *Engine) reset(q *Question) error {
	if q.Resolved {
		return ErrAlreadyResolved
	}
	// The request timestamp identifies the live oracle request and must only
	// ever increase, even when the dispute lands in the same second.
	next := e.now()
	if next <= q.RequestTimestamp {
		next = q.RequestTimestamp + 1
	}
	q.RequestTimestamp = next
	if err := e.state.QuestionPut(q); err != nil {
		return err
	}
	if err := e.requestPrice(q); err != nil {
		return err
	}
	e.emit(NewResetEvent(q))
	return nil
}

// Ready reports whether the question exists and the oracle holds a final
// price for its current request.
func (e *Engine) Ready(id [32]byte) bool {
	if e == nil || e.state == nil || e.oracle == nil {
		return false
	}
	q, ok := e.state.QuestionGet(id)
	if !ok || !q.Initialized() {
		return false
	}
	return e.oracle.HasPrice(e.self, q.RequestTimestamp, q.AncillaryData)
}

// Resolve settles the price for the question's current request, converts it to
// a payout vector and reports that vector to the condition ledger. The
// resolved flag is persisted before the external report closes the reentrancy
// window: a reentrant resolve observes the already-updated guard and fails.
func (e *Engine) Resolve(id [32]byte) (*big.Int, [2]uint64, error) {
	if err := e.ensureWired(); err != nil {
		return nil, [2]uint64{}, err
	}
	q, err := e.loadQuestion(id)
	if err != nil {
		return nil, [2]uint64{}, err
	}
	if q.Paused {
		return nil, [2]uint64{}, ErrPaused
	}
	if q.Resolved {
		return nil, [2]uint64{}, ErrAlreadyResolved
	}
	if !e.oracle.HasPrice(e.self, q.RequestTimestamp, q.AncillaryData) {
		return nil, [2]uint64{}, ErrNotReady
	}
	price, err := e.oracle.SettleAndGetPrice(e.self, q.RequestTimestamp, q.AncillaryData)
	if err != nil {
		return nil, [2]uint64{}, fmt.Errorf("market: settle price: %w", err)
	}
	payouts, err := PayoutsForPrice(price)
	if err != nil {
		return nil, [2]uint64{}, err
	}
	q.Resolved = true
	if err := e.state.QuestionPut(q); err != nil {
		return nil, [2]uint64{}, err
	}
	if err := e.conditions.ReportPayouts(id, payouts); err != nil {
		// Roll the guard back so a later resolve can retry the report. The
		// reentrancy window stayed closed while the external call ran.
		if rollbackErr := e.rollbackResolved(q); rollbackErr != nil {
			return nil, [2]uint64{}, fmt.Errorf("market: report payouts: %w (resolved rollback failed: %v)", err, rollbackErr)
		}
		return nil, [2]uint64{}, fmt.Errorf("market: report payouts: %w", err)
	}
	e.emit(NewResolvedEvent(q, price, payouts))
	return price, payouts, nil
}

// rollbackResolved compensates a persisted resolved flag after a failed
// payout report, so the operation leaves no partial commit behind and a
// retry can report once the ledger recovers.
func (e *Engine) rollbackResolved(q *Question) error {
	q.Resolved = false
	return e.state.QuestionPut(q)
}

// Flag marks the question for emergency resolution after the safety period
// and pauses it as a side effect. Flagging is rejected when already flagged.
func (e *Engine) Flag(caller [20]byte, id [32]byte) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	q, err := e.loadQuestion(id)
	if err != nil {
		return err
	}
	if q.Flagged() {
		return ErrAlreadyFlagged
	}
	q.EmergencyTimestamp = e.now() + e.safetyPeriod
	q.Paused = true
	if err := e.state.QuestionPut(q); err != nil {
		return err
	}
	e.emit(NewFlaggedEvent(q))
	return nil
}

// EmergencyResolve reports a caller-supplied payout vector directly to the
// condition ledger, bypassing the oracle. Only the shape is validated (two
// entries, positive sum); this is a privileged trapdoor for human
// intervention. It requires the question to be flagged and the safety period
// to have elapsed.
func (e *Engine) EmergencyResolve(caller [20]byte, id [32]byte, payouts []uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.conditions == nil {
		return errNilConditions
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if len(payouts) != 2 || payouts[0]+payouts[1] == 0 {
		return ErrInvalidPayouts
	}
	q, err := e.loadQuestion(id)
	if err != nil {
		return err
	}
	if q.Resolved {
		return ErrAlreadyResolved
	}
	if !q.Flagged() {
		return ErrNotFlagged
	}
	if e.now() <= q.EmergencyTimestamp {
		return ErrSafetyPeriodActive
	}
	vector := [2]uint64{payouts[0], payouts[1]}
	q.Resolved = true
	if err := e.state.QuestionPut(q); err != nil {
		return err
	}
	if err := e.conditions.ReportPayouts(id, vector); err != nil {
		if rollbackErr := e.rollbackResolved(q); rollbackErr != nil {
			return fmt.Errorf("market: report payouts: %w (resolved rollback failed: %v)", err, rollbackErr)
		}
		return fmt.Errorf("market: report payouts: %w", err)
	}
	e.emit(NewEmergencyResolvedEvent(q, vector))
	return nil
}

// Pause suspends the resolve transition for the question. Flagging, resets
// and emergency resolution are unaffected.
func (e *Engine) Pause(caller [20]byte, id [32]byte) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	q, err := e.loadQuestion(id)
	if err != nil {
		return err
	}
	if q.Paused {
		return ErrPaused
	}
	q.Paused = true
	if err := e.state.QuestionPut(q); err != nil {
		return err
	}
	e.emit(NewPausedEvent(q))
	return nil
}

// Unpause lifts a suspension previously applied by Pause or Flag.
func (e *Engine) Unpause(caller [20]byte, id [32]byte) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	q, err := e.loadQuestion(id)
	if err != nil {
		return err
	}
	if !q.Paused {
		return ErrNotPaused
	}
	q.Paused = false
	if err := e.state.QuestionPut(q); err != nil {
		return err
	}
	e.emit(NewUnpausedEvent(q))
	return nil
}

// Question returns a copy of the stored record for the fingerprint.
func (e *Engine) Question(id [32]byte) (*Question, error) {
	return e.loadQuestion(id)
}
