package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"ctfadapter/core/events"
	"ctfadapter/core/types"
)

type mockState struct {
	questions map[[32]byte]*Question
	balances  map[[20]byte]map[[20]byte]*big.Int
	roles     map[string]map[[20]byte]bool
}

func newMockState() *mockState {
	return &mockState{
		questions: make(map[[32]byte]*Question),
		balances:  make(map[[20]byte]map[[20]byte]*big.Int),
		roles:     make(map[string]map[[20]byte]bool),
	}
}

func (m *mockState) QuestionPut(q *Question) error {
	if q == nil {
		return fmt.Errorf("nil question")
	}
	sanitized, err := SanitizeQuestion(q)
	if err != nil {
		return err
	}
	m.questions[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) QuestionGet(id [32]byte) (*Question, bool) {
	q, ok := m.questions[id]
	if !ok {
		return nil, false
	}
	return q.Clone(), true
}

func (m *mockState) Transfer(token [20]byte, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance := m.balance(token, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.setBalance(token, from, new(big.Int).Sub(balance, amount))
	m.setBalance(token, to, new(big.Int).Add(m.balance(token, to), amount))
	return nil
}

func (m *mockState) HasRole(role string, addr []byte) bool {
	var key [20]byte
	copy(key[:], addr)
	return m.roles[role][key]
}

func (m *mockState) grantRole(role string, addr [20]byte) {
	if m.roles[role] == nil {
		m.roles[role] = make(map[[20]byte]bool)
	}
	m.roles[role][addr] = true
}

func (m *mockState) balance(token, addr [20]byte) *big.Int {
	if bucket, ok := m.balances[token]; ok {
		if amt, ok := bucket[addr]; ok && amt != nil {
			return new(big.Int).Set(amt)
		}
	}
	return big.NewInt(0)
}

func (m *mockState) setBalance(token, addr [20]byte, amount *big.Int) {
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	m.balances[token][addr] = new(big.Int).Set(amount)
}

type oracleRequestKey struct {
	requester [20]byte
	timestamp int64
	ancillary string
}

type mockOracle struct {
	requests   []*PriceRequest
	prices     map[oracleRequestKey]*big.Int
	requestErr error
	settleErr  error
}

func newMockOracle() *mockOracle {
	return &mockOracle{prices: make(map[oracleRequestKey]*big.Int)}
}

func requestKey(requester [20]byte, timestamp int64, ancillary []byte) oracleRequestKey {
	return oracleRequestKey{requester: requester, timestamp: timestamp, ancillary: string(ancillary)}
}

func (m *mockOracle) RequestPrice(req *PriceRequest) error {
	if m.requestErr != nil {
		return m.requestErr
	}
	m.requests = append(m.requests, req)
	return nil
}

func (m *mockOracle) HasPrice(requester [20]byte, timestamp int64, ancillary []byte) bool {
	_, ok := m.prices[requestKey(requester, timestamp, ancillary)]
	return ok
}

func (m *mockOracle) SettleAndGetPrice(requester [20]byte, timestamp int64, ancillary []byte) (*big.Int, error) {
	if m.settleErr != nil {
		return nil, m.settleErr
	}
	price, ok := m.prices[requestKey(requester, timestamp, ancillary)]
	if !ok {
		return nil, fmt.Errorf("no price")
	}
	return new(big.Int).Set(price), nil
}

func (m *mockOracle) settle(requester [20]byte, timestamp int64, ancillary []byte, price *big.Int) {
	m.prices[requestKey(requester, timestamp, ancillary)] = new(big.Int).Set(price)
}

type mockConditions struct {
	prepared   map[[32]byte]int
	reports    map[[32]byte][2]uint64
	prepareErr error
	reportErr  error
}

func newMockConditions() *mockConditions {
	return &mockConditions{prepared: make(map[[32]byte]int), reports: make(map[[32]byte][2]uint64)}
}

func (m *mockConditions) PrepareCondition(oracle [20]byte, questionID [32]byte, outcomeSlots int) error {
	if m.prepareErr != nil {
		return m.prepareErr
	}
	m.prepared[questionID] = outcomeSlots
	return nil
}

func (m *mockConditions) ReportPayouts(questionID [32]byte, payouts [2]uint64) error {
	if m.reportErr != nil {
		return m.reportErr
	}
	m.reports[questionID] = payouts
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if wrapper, ok := evt.(marketEvent); ok && wrapper.evt != nil {
			out = append(out, wrapper.evt)
		}
	}
	return out
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type testFixture struct {
	state      *mockState
	oracle     *mockOracle
	conditions *mockConditions
	engine     *Engine
	token      [20]byte
	admin      [20]byte
	creator    [20]byte
	oracleAddr [20]byte
}

func newTestFixture() *testFixture {
	f := &testFixture{
		state:      newMockState(),
		oracle:     newMockOracle(),
		conditions: newMockConditions(),
		token:      newTestAddress(0x77),
		admin:      newTestAddress(0xAD),
		creator:    newTestAddress(0x01),
		oracleAddr: newTestAddress(0x0F),
	}
	engine := NewEngine(newTestAddress(0xCA))
	engine.SetState(f.state)
	engine.SetOracle(f.oracle, f.oracleAddr)
	engine.SetConditions(f.conditions)
	engine.SetWhitelist(NewStaticWhitelist(f.token))
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	f.state.grantRole(RoleMarketAdmin, f.admin)
	f.engine = engine
	return f
}

func (f *testFixture) initialize(t *testing.T, ancillary []byte, reward, bond int64) *Question {
	t.Helper()
	q, err := f.engine.Initialize(f.creator, ancillary, f.token, big.NewInt(reward), big.NewInt(bond))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return q
}

func TestInitializeValidations(t *testing.T) {
	f := newTestFixture()
	unlisted := newTestAddress(0x88)

	cases := []struct {
		name      string
		ancillary []byte
		token     [20]byte
		wantErr   error
	}{
		{"ok", []byte("q: will it rain tomorrow?"), f.token, nil},
		{"unsupported token", []byte("other question"), unlisted, ErrUnsupportedToken},
		{"empty payload", nil, f.token, ErrInvalidAncillary},
		{"oversized payload", bytes.Repeat([]byte{0x41}, MaxAncillaryLen+1), f.token, ErrInvalidAncillary},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Initialize(f.creator, tc.ancillary, tc.token, big.NewInt(0), big.NewInt(0))
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestInitializeHonorsLoweredPayloadLimit(t *testing.T) {
	f := newTestFixture()
	f.engine.SetMaxAncillaryLen(16)
	if _, err := f.engine.Initialize(f.creator, bytes.Repeat([]byte{0x41}, 17), f.token, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidAncillary) {
		t.Fatalf("expected lowered limit rejection, got %v", err)
	}
	if _, err := f.engine.Initialize(f.creator, bytes.Repeat([]byte{0x41}, 16), f.token, big.NewInt(0), big.NewInt(0)); err != nil {
		t.Fatalf("initialize at limit: %v", err)
	}
	// Raising past the oracle cap restores the cap instead.
	f.engine.SetMaxAncillaryLen(MaxAncillaryLen * 2)
	if _, err := f.engine.Initialize(f.creator, bytes.Repeat([]byte{0x42}, MaxAncillaryLen+1), f.token, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidAncillary) {
		t.Fatalf("expected hard cap rejection, got %v", err)
	}
}

func TestInitializeRejectsDuplicate(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: binary outcome?")
	f.initialize(t, ancillary, 0, 0)
	if _, err := f.engine.Initialize(f.creator, ancillary, f.token, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
}

func TestInitializeDefaults(t *testing.T) {
	f := newTestFixture()
	q := f.initialize(t, []byte("q: default flags"), 0, 0)
	if q.Resolved || q.Paused {
		t.Fatalf("expected fresh question unresolved and unpaused")
	}
	if q.Flagged() {
		t.Fatalf("expected fresh question unflagged")
	}
	if q.RequestTimestamp != 1_700_000_000 {
		t.Fatalf("unexpected request timestamp: %d", q.RequestTimestamp)
	}
	if q.Creator != f.creator {
		t.Fatalf("unexpected creator")
	}
	if got := f.conditions.prepared[q.ID]; got != 2 {
		t.Fatalf("expected two outcome slots prepared, got %d", got)
	}
	if len(f.oracle.requests) != 1 {
		t.Fatalf("expected one oracle request, got %d", len(f.oracle.requests))
	}
	req := f.oracle.requests[0]
	if !req.EventBased || !req.DisputeCallback {
		t.Fatalf("expected event-based request with dispute callback")
	}
	if req.Requester != f.engine.Address() {
		t.Fatalf("expected adapter as requester")
	}
}

func TestInitializePullsReward(t *testing.T) {
	f := newTestFixture()
	f.state.setBalance(f.token, f.creator, big.NewInt(1_000))
	f.initialize(t, []byte("q: rewarded"), 400, 100)

	if got := f.state.balance(f.token, f.creator).String(); got != "600" {
		t.Fatalf("unexpected creator balance: %s", got)
	}
	if got := f.state.balance(f.token, f.engine.Address()).String(); got != "400" {
		t.Fatalf("unexpected adapter balance: %s", got)
	}
}

func TestInitializeInsufficientRewardBalance(t *testing.T) {
	f := newTestFixture()
	f.state.setBalance(f.token, f.creator, big.NewInt(10))
	ancillary := []byte("q: unfunded")
	if _, err := f.engine.Initialize(f.creator, ancillary, f.token, big.NewInt(400), big.NewInt(0)); err == nil {
		t.Fatalf("expected transfer failure")
	}
	if _, ok := f.state.QuestionGet(QuestionID(f.engine.Address(), ancillary)); ok {
		t.Fatalf("expected no record after failed funding")
	}
}

func TestDisputeCallbackResets(t *testing.T) {
	f := newTestFixture()
	emitter := &capturingEmitter{}
	f.engine.SetEmitter(emitter)
	ancillary := []byte("q: disputed once")
	q := f.initialize(t, ancillary, 0, 0)

	f.engine.SetNowFunc(func() int64 { return 1_700_000_500 })
	if err := f.engine.HandleDispute(f.oracleAddr, ancillary); err != nil {
		t.Fatalf("dispute callback: %v", err)
	}

	stored, _ := f.state.QuestionGet(q.ID)
	if stored.RequestTimestamp != 1_700_000_500 {
		t.Fatalf("expected new request timestamp, got %d", stored.RequestTimestamp)
	}
	if stored.Resolved {
		t.Fatalf("reset must not resolve")
	}
	if !bytes.Equal(stored.AncillaryData, ancillary) {
		t.Fatalf("ancillary data changed on reset")
	}
	if stored.Creator != q.Creator || stored.RewardToken != q.RewardToken {
		t.Fatalf("immutable fields changed on reset")
	}
	if len(f.oracle.requests) != 2 {
		t.Fatalf("expected re-issued oracle request, got %d", len(f.oracle.requests))
	}
	reissued := f.oracle.requests[1]
	if reissued.Timestamp != 1_700_000_500 {
		t.Fatalf("re-request carries stale timestamp %d", reissued.Timestamp)
	}
	if !bytes.Equal(reissued.AncillaryData, ancillary) {
		t.Fatalf("re-request carries different ancillary data")
	}
	last := emitter.typesEvents()[len(emitter.typesEvents())-1]
	if last.Type != EventTypeReset {
		t.Fatalf("expected reset event, got %s", last.Type)
	}
}

func TestDisputeCallbackMonotoneTimestamp(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: same-second dispute")
	q := f.initialize(t, ancillary, 0, 0)

	// Clock has not advanced; the new request timestamp must still increase.
	if err := f.engine.HandleDispute(f.oracleAddr, ancillary); err != nil {
		t.Fatalf("dispute callback: %v", err)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.RequestTimestamp <= q.RequestTimestamp {
		t.Fatalf("request timestamp did not advance: %d -> %d", q.RequestTimestamp, stored.RequestTimestamp)
	}
}

func TestDisputeCallbackRejectsImpostor(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: impostor")
	q := f.initialize(t, ancillary, 0, 0)
	if err := f.engine.HandleDispute(newTestAddress(0xEE), ancillary); !errors.Is(err, ErrNotOracle) {
		t.Fatalf("expected oracle-identity rejection, got %v", err)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.RequestTimestamp != q.RequestTimestamp {
		t.Fatalf("state changed on rejected callback")
	}
}

func TestDisputeCallbackUnknownQuestion(t *testing.T) {
	f := newTestFixture()
	if err := f.engine.HandleDispute(f.oracleAddr, []byte("q: never registered")); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestAdminResetFailsafe(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: stuck callback")
	q := f.initialize(t, ancillary, 0, 0)

	if err := f.engine.Reset(f.creator, q.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	f.engine.SetNowFunc(func() int64 { return 1_700_000_900 })
	if err := f.engine.Reset(f.admin, q.ID); err != nil {
		t.Fatalf("admin reset: %v", err)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.RequestTimestamp != 1_700_000_900 {
		t.Fatalf("expected reset timestamp, got %d", stored.RequestTimestamp)
	}
}

func TestReadyAndResolveLifecycle(t *testing.T) {
	f := newTestFixture()
	emitter := &capturingEmitter{}
	f.engine.SetEmitter(emitter)
	ancillary := []byte("q: yes outcome")
	q := f.initialize(t, ancillary, 0, 0)

	if f.engine.Ready(q.ID) {
		t.Fatalf("ready before settlement")
	}
	if _, _, err := f.engine.Resolve(q.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}

	f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, PriceYes)
	if !f.engine.Ready(q.ID) {
		t.Fatalf("expected ready after settlement")
	}
	price, payouts, err := f.engine.Resolve(q.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if price.Cmp(PriceYes) != 0 {
		t.Fatalf("unexpected price %s", price)
	}
	if payouts != [2]uint64{1, 0} {
		t.Fatalf("unexpected payouts %v", payouts)
	}
	if got := f.conditions.reports[q.ID]; got != [2]uint64{1, 0} {
		t.Fatalf("unexpected reported payouts %v", got)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if !stored.Resolved {
		t.Fatalf("expected resolved flag set")
	}
	if _, _, err := f.engine.Resolve(q.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected already resolved, got %v", err)
	}
	last := emitter.typesEvents()[len(emitter.typesEvents())-1]
	if last.Type != EventTypeResolved {
		t.Fatalf("expected resolved event, got %s", last.Type)
	}
	if last.Attributes["outcome"] != "yes" {
		t.Fatalf("unexpected outcome attribute %q", last.Attributes["outcome"])
	}
}

func TestResolvePayoutMapping(t *testing.T) {
	cases := []struct {
		name  string
		price *big.Int
		want  [2]uint64
	}{
		{"no", PriceNo, [2]uint64{0, 1}},
		{"unknown", PriceUnknown, [2]uint64{1, 1}},
		{"yes", PriceYes, [2]uint64{1, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFixture()
			ancillary := []byte("q: mapping " + tc.name)
			q := f.initialize(t, ancillary, 0, 0)
			f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, tc.price)
			_, payouts, err := f.engine.Resolve(q.ID)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if payouts != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, payouts)
			}
		})
	}
}

func TestResolveRejectsNonCanonicalPrice(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: garbage price")
	q := f.initialize(t, ancillary, 0, 0)
	f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, big.NewInt(42))
	if _, _, err := f.engine.Resolve(q.ID); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.Resolved {
		t.Fatalf("question must stay unresolved on invalid price")
	}
}

func TestResolveBlockedWhilePaused(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: paused resolve")
	q := f.initialize(t, ancillary, 0, 0)
	f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, PriceNo)
	if err := f.engine.Pause(f.admin, q.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, err := f.engine.Resolve(q.ID); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := f.engine.Unpause(f.admin, q.ID); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, _, err := f.engine.Resolve(q.ID); err != nil {
		t.Fatalf("resolve after unpause: %v", err)
	}
}

func TestResolveAfterResetNeedsFreshSettlement(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: reset race")
	q := f.initialize(t, ancillary, 0, 0)
	f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, PriceYes)

	// A reset that lands first invalidates the settled price: the resolve
	// attempt now targets the new request timestamp and fails the ready check.
	f.engine.SetNowFunc(func() int64 { return 1_700_000_700 })
	if err := f.engine.HandleDispute(f.oracleAddr, ancillary); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, _, err := f.engine.Resolve(q.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not ready after reset, got %v", err)
	}
}

func TestFlagSetsEmergencyWindowAndPauses(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: flagged")
	q := f.initialize(t, ancillary, 0, 0)

	if err := f.engine.Flag(f.creator, q.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.Flag(f.admin, q.ID); err != nil {
		t.Fatalf("flag: %v", err)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.EmergencyTimestamp != 1_700_000_000+DefaultSafetyPeriod {
		t.Fatalf("unexpected emergency timestamp %d", stored.EmergencyTimestamp)
	}
	if !stored.Paused {
		t.Fatalf("flag must pause the question")
	}
	if err := f.engine.Flag(f.admin, q.ID); !errors.Is(err, ErrAlreadyFlagged) {
		t.Fatalf("expected already flagged, got %v", err)
	}
}

func TestEmergencyResolveHonorsSafetyPeriod(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: emergency")
	q := f.initialize(t, ancillary, 0, 0)
	if err := f.engine.Flag(f.admin, q.ID); err != nil {
		t.Fatalf("flag: %v", err)
	}

	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 0}); !errors.Is(err, ErrSafetyPeriodActive) {
		t.Fatalf("expected safety period rejection, got %v", err)
	}
	f.engine.SetNowFunc(func() int64 { return 1_700_000_000 + DefaultSafetyPeriod + 1 })
	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 0}); err != nil {
		t.Fatalf("emergency resolve: %v", err)
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if !stored.Resolved {
		t.Fatalf("expected resolved")
	}
	if got := f.conditions.reports[q.ID]; got != [2]uint64{1, 0} {
		t.Fatalf("unexpected reported payouts %v", got)
	}
	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 0}); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected already resolved, got %v", err)
	}
}

func TestResolveRollsBackResolvedOnReportFailure(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: ledger outage")
	q := f.initialize(t, ancillary, 0, 0)
	f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, PriceYes)

	f.conditions.reportErr = errors.New("ledger unavailable")
	if _, _, err := f.engine.Resolve(q.ID); err == nil {
		t.Fatalf("expected resolve to fail when the report fails")
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.Resolved {
		t.Fatalf("failed report must not leave the question resolved")
	}
	if _, ok := f.conditions.reports[q.ID]; ok {
		t.Fatalf("no payouts should be recorded")
	}

	// Once the ledger recovers, a retry resolves and reports.
	f.conditions.reportErr = nil
	if _, payouts, err := f.engine.Resolve(q.ID); err != nil || payouts != [2]uint64{1, 0} {
		t.Fatalf("retry resolve: %v %v", payouts, err)
	}
	stored, _ = f.state.QuestionGet(q.ID)
	if !stored.Resolved {
		t.Fatalf("expected resolved after retry")
	}
	if got := f.conditions.reports[q.ID]; got != [2]uint64{1, 0} {
		t.Fatalf("unexpected reported payouts %v", got)
	}
}

func TestEmergencyResolveRollsBackResolvedOnReportFailure(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: emergency ledger outage")
	q := f.initialize(t, ancillary, 0, 0)
	if err := f.engine.Flag(f.admin, q.ID); err != nil {
		t.Fatalf("flag: %v", err)
	}
	f.engine.SetNowFunc(func() int64 { return 1_700_000_000 + DefaultSafetyPeriod + 1 })

	f.conditions.reportErr = errors.New("ledger unavailable")
	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 1}); err == nil {
		t.Fatalf("expected emergency resolve to fail when the report fails")
	}
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.Resolved {
		t.Fatalf("failed report must not leave the question resolved")
	}

	f.conditions.reportErr = nil
	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 1}); err != nil {
		t.Fatalf("retry emergency resolve: %v", err)
	}
	if got := f.conditions.reports[q.ID]; got != [2]uint64{1, 1} {
		t.Fatalf("unexpected reported payouts %v", got)
	}
}

func TestEmergencyResolvePreconditions(t *testing.T) {
	f := newTestFixture()
	ancillary := []byte("q: emergency preconditions")
	q := f.initialize(t, ancillary, 0, 0)

	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 0, 0}); !errors.Is(err, ErrInvalidPayouts) {
		t.Fatalf("expected payout length rejection, got %v", err)
	}
	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{0, 0}); !errors.Is(err, ErrInvalidPayouts) {
		t.Fatalf("expected zero-sum rejection, got %v", err)
	}
	if err := f.engine.EmergencyResolve(f.admin, q.ID, []uint64{1, 0}); !errors.Is(err, ErrNotFlagged) {
		t.Fatalf("expected not flagged, got %v", err)
	}
	if err := f.engine.EmergencyResolve(f.creator, q.ID, []uint64{1, 0}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPauseRequiresExistingQuestion(t *testing.T) {
	f := newTestFixture()
	var id [32]byte
	id[0] = 0xBE
	if err := f.engine.Pause(f.admin, id); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := f.engine.Unpause(f.admin, id); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

// reentrantConditions re-enters Resolve from within the payout report to
// verify the resolved guard is written before the external call.
type reentrantConditions struct {
	mockConditions
	engine   *Engine
	reentry  error
	attempts int
}

func (r *reentrantConditions) ReportPayouts(questionID [32]byte, payouts [2]uint64) error {
	r.attempts++
	if r.attempts == 1 {
		_, _, r.reentry = r.engine.Resolve(questionID)
	}
	return r.mockConditions.ReportPayouts(questionID, payouts)
}

func TestResolveReentrancyGuard(t *testing.T) {
	f := newTestFixture()
	reentrant := &reentrantConditions{mockConditions: *newMockConditions(), engine: f.engine}
	f.engine.SetConditions(reentrant)

	ancillary := []byte("q: reentrant report")
	q := f.initialize(t, ancillary, 0, 0)
	f.oracle.settle(f.engine.Address(), q.RequestTimestamp, ancillary, PriceUnknown)
	if _, _, err := f.engine.Resolve(q.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !errors.Is(reentrant.reentry, ErrAlreadyResolved) {
		t.Fatalf("expected reentrant resolve to hit resolved guard, got %v", reentrant.reentry)
	}
}

func TestQuestionGetter(t *testing.T) {
	f := newTestFixture()
	f.state.setBalance(f.token, f.creator, big.NewInt(1_000))
	ancillary := []byte("q: getter")
	q := f.initialize(t, ancillary, 7, 0)
	var missing [32]byte
	if _, err := f.engine.Question(missing); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	got, err := f.engine.Question(q.ID)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if got.Reward.String() != "7" {
		t.Fatalf("unexpected reward %s", got.Reward)
	}
	// Mutating the returned copy must not leak into the store.
	got.Resolved = true
	stored, _ := f.state.QuestionGet(q.ID)
	if stored.Resolved {
		t.Fatalf("getter leaked a mutable reference")
	}
}
