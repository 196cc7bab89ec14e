package oracle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ctfadapter/native/market"
)

var (
	ErrRequestExists     = errors.New("oracle: request already exists")
	ErrRequestNotFound   = errors.New("oracle: request not found")
	ErrNoProposal        = errors.New("oracle: no proposal to dispute")
	ErrLivenessExpired   = errors.New("oracle: liveness window closed")
	ErrPriceUnavailable  = errors.New("oracle: price not available")
	ErrNotInFallback     = errors.New("oracle: request not on the fallback path")
	ErrNonCanonicalPrice = errors.New("oracle: proposed price outside accepted values")
	errListenerNotWired  = errors.New("oracle: dispute listener not configured")
)

// DefaultLiveness is the window during which a proposal may be disputed.
const DefaultLiveness = int64(2 * 60 * 60)

// RequestState tracks a price request through propose, dispute and settle.
type RequestState uint8

const (
	StateRequested RequestState = iota
	StateProposed
	StateDisputed
	StateFallback
	StateSettled
)

// Request is the oracle-side view of a price request. A disputed event-based
// request is discarded (the requester re-issues under a new timestamp); a
// request whose payload has already burned its free re-request moves to the
// fallback path and waits for the slower consensus price instead.
type Request struct {
	Requester       [20]byte
	Timestamp       int64
	AncillaryData   []byte
	RewardToken     [20]byte
	Reward          *big.Int
	Bond            *big.Int
	EventBased      bool
	DisputeCallback bool
	State           RequestState
	ProposedPrice   *big.Int
	ProposedAt      int64
	SettledPrice    *big.Int
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.AncillaryData = append([]byte(nil), r.AncillaryData...)
	if r.Reward != nil {
		clone.Reward = new(big.Int).Set(r.Reward)
	}
	if r.Bond != nil {
		clone.Bond = new(big.Int).Set(r.Bond)
	}
	if r.ProposedPrice != nil {
		clone.ProposedPrice = new(big.Int).Set(r.ProposedPrice)
	}
	if r.SettledPrice != nil {
		clone.SettledPrice = new(big.Int).Set(r.SettledPrice)
	}
	return &clone
}

// DisputeListener receives the dispute callback for requests that enabled it.
// The caller argument carries the oracle's own identity so listeners can
// authenticate the origin.
type DisputeListener interface {
	HandleDispute(caller [20]byte, ancillaryData []byte) error
}

// Optimistic is an in-process optimistic oracle gateway. It implements the
// propose/dispute/settle flow with a liveness window, invokes the dispute
// callback on the first dispute of a payload lineage and parks later disputes
// on the fallback path, where the final price arrives via PushPrice. It is
// the operational stand-in for the external oracle; the resolution engine
// depends only on its interface.
type Optimistic struct {
	mu       sync.Mutex
	addr     [20]byte
	liveness int64
	requests map[string]*Request
	disputes map[[32]byte]int
	listener DisputeListener
	nowFn    func() int64
}

// NewOptimistic constructs a gateway answering as the supplied identity.
func NewOptimistic(addr [20]byte) *Optimistic {
	return &Optimistic{
		addr:     addr,
		liveness: DefaultLiveness,
		requests: make(map[string]*Request),
		disputes: make(map[[32]byte]int),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// Address returns the identity the gateway uses when invoking callbacks.
func (o *Optimistic) Address() [20]byte { return o.addr }

// SetListener wires the dispute callback target.
func (o *Optimistic) SetListener(listener DisputeListener) {
	o.mu.Lock()
	o.listener = listener
	o.mu.Unlock()
}

// SetLiveness overrides the dispute window. Non-positive restores the default.
func (o *Optimistic) SetLiveness(seconds int64) {
	o.mu.Lock()
	if seconds <= 0 {
		seconds = DefaultLiveness
	}
	o.liveness = seconds
	o.mu.Unlock()
}

// SetNowFunc overrides the time source, for deterministic tests.
func (o *Optimistic) SetNowFunc(now func() int64) {
	o.mu.Lock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	o.nowFn = now
	o.mu.Unlock()
}

func requestKey(requester [20]byte, timestamp int64, ancillaryData []byte) string {
	digest := ethcrypto.Keccak256Hash(ancillaryData)
	return hex.EncodeToString(requester[:]) + ":" + strconv.FormatInt(timestamp, 10) + ":" + hex.EncodeToString(digest[:])
}

func lineageKey(requester [20]byte, ancillaryData []byte) [32]byte {
	return ethcrypto.Keccak256Hash(requester[:], ancillaryData)
}

func canonicalPrice(price *big.Int) bool {
	if price == nil {
		return false
	}
	return price.Cmp(market.PriceNo) == 0 || price.Cmp(market.PriceUnknown) == 0 || price.Cmp(market.PriceYes) == 0
}

// RequestPrice registers a new price request. Duplicate
// (requester, timestamp, payload) tuples are rejected.
func (o *Optimistic) RequestPrice(req *market.PriceRequest) error {
	if req == nil {
		return fmt.Errorf("oracle: nil request")
	}
	key := requestKey(req.Requester, req.Timestamp, req.AncillaryData)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.requests[key]; ok {
		return ErrRequestExists
	}
	stored := &Request{
		Requester:       req.Requester,
		Timestamp:       req.Timestamp,
		AncillaryData:   append([]byte(nil), req.AncillaryData...),
		RewardToken:     req.RewardToken,
		EventBased:      req.EventBased,
		DisputeCallback: req.DisputeCallback,
		State:           StateRequested,
	}
	if req.Reward != nil {
		stored.Reward = new(big.Int).Set(req.Reward)
	} else {
		stored.Reward = big.NewInt(0)
	}
	if req.Bond != nil {
		stored.Bond = new(big.Int).Set(req.Bond)
	} else {
		stored.Bond = big.NewInt(0)
	}
	o.requests[key] = stored
	return nil
}

// ProposePrice records a proposal for the request and starts the liveness
// clock. Event-based binary requests only accept the three canonical values.
func (o *Optimistic) ProposePrice(requester [20]byte, timestamp int64, ancillaryData []byte, price *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[requestKey(requester, timestamp, ancillaryData)]
	if !ok {
		return ErrRequestNotFound
	}
	if req.State != StateRequested {
		return fmt.Errorf("oracle: cannot propose in state %d", req.State)
	}
	if !canonicalPrice(price) {
		return fmt.Errorf("%w: %s", ErrNonCanonicalPrice, price)
	}
	req.ProposedPrice = new(big.Int).Set(price)
	req.ProposedAt = o.nowFn()
	req.State = StateProposed
	return nil
}

// DisputePrice challenges a live proposal. The first dispute of a payload
// lineage fires the dispute callback (the requester is expected to re-issue);
// any later dispute parks the request on the fallback path instead, where the
// consensus price is delivered through PushPrice. A listener error fails the
// dispute with no state change, mirroring the all-or-nothing transaction
// semantics of the real oracle.
func (o *Optimistic) DisputePrice(requester [20]byte, timestamp int64, ancillaryData []byte) error {
	o.mu.Lock()
	req, ok := o.requests[requestKey(requester, timestamp, ancillaryData)]
	if !ok {
		o.mu.Unlock()
		return ErrRequestNotFound
	}
	if req.State != StateProposed {
		o.mu.Unlock()
		return ErrNoProposal
	}
	if o.nowFn() >= req.ProposedAt+o.liveness {
		o.mu.Unlock()
		return ErrLivenessExpired
	}
	lineage := lineageKey(requester, ancillaryData)
	firstDispute := o.disputes[lineage] == 0
	listener := o.listener
	if firstDispute && req.DisputeCallback {
		if listener == nil {
			o.mu.Unlock()
			return errListenerNotWired
		}
		// Run the callback outside the lock: it re-enters RequestPrice for
		// the re-issued request.
		o.mu.Unlock()
		if err := listener.HandleDispute(o.addr, ancillaryData); err != nil {
			return fmt.Errorf("oracle: dispute callback: %w", err)
		}
		o.mu.Lock()
		o.disputes[lineage]++
		req.State = StateDisputed
		o.mu.Unlock()
		return nil
	}
	o.disputes[lineage]++
	req.State = StateFallback
	o.mu.Unlock()
	return nil
}

// PushPrice delivers the consensus-resolved price for a request parked on the
// fallback path.
func (o *Optimistic) PushPrice(requester [20]byte, timestamp int64, ancillaryData []byte, price *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[requestKey(requester, timestamp, ancillaryData)]
	if !ok {
		return ErrRequestNotFound
	}
	if req.State != StateFallback {
		return ErrNotInFallback
	}
	if !canonicalPrice(price) {
		return fmt.Errorf("%w: %s", ErrNonCanonicalPrice, price)
	}
	req.SettledPrice = new(big.Int).Set(price)
	req.State = StateSettled
	return nil
}

// HasPrice reports whether a final price is available for the request: either
// already settled, or proposed with the liveness window elapsed undisputed.
func (o *Optimistic) HasPrice(requester [20]byte, timestamp int64, ancillaryData []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[requestKey(requester, timestamp, ancillaryData)]
	if !ok {
		return false
	}
	switch req.State {
	case StateSettled:
		return true
	case StateProposed:
		return o.nowFn() >= req.ProposedAt+o.liveness
	default:
		return false
	}
}

// SettleAndGetPrice finalizes the request if its proposal survived the
// liveness window and returns the settled price.
func (o *Optimistic) SettleAndGetPrice(requester [20]byte, timestamp int64, ancillaryData []byte) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[requestKey(requester, timestamp, ancillaryData)]
	if !ok {
		return nil, ErrRequestNotFound
	}
	switch req.State {
	case StateSettled:
		return new(big.Int).Set(req.SettledPrice), nil
	case StateProposed:
		if o.nowFn() < req.ProposedAt+o.liveness {
			return nil, ErrPriceUnavailable
		}
		req.SettledPrice = new(big.Int).Set(req.ProposedPrice)
		req.State = StateSettled
		return new(big.Int).Set(req.SettledPrice), nil
	default:
		return nil, ErrPriceUnavailable
	}
}

// Request returns a copy of the stored request for inspection.
func (o *Optimistic) Request(requester [20]byte, timestamp int64, ancillaryData []byte) (*Request, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[requestKey(requester, timestamp, ancillaryData)]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}
