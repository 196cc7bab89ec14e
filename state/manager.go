package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"ctfadapter/native/market"
	"ctfadapter/storage"
)

var (
	errNilDatabase   = errors.New("state: database not configured")
	errInvalidAmount = errors.New("state: transfer amount must be non-negative")
	errInsufficient  = errors.New("state: insufficient balance")
)

const (
	questionPrefix = "market/question/"
	balancePrefix  = "bank/balance/"
	rolePrefix     = "auth/role/"
)

// storedQuestion is the persisted wire form of a question record. Byte arrays
// and big integers are hex/decimal strings so the rows stay greppable in
// debugging sessions against the raw database.
type storedQuestion struct {
	ID                 string `json:"id"`
	RequestTimestamp   int64  `json:"requestTimestamp"`
	AncillaryData      string `json:"ancillaryData"`
	RewardToken        string `json:"rewardToken"`
	Reward             string `json:"reward"`
	ProposalBond       string `json:"proposalBond"`
	EmergencyTimestamp int64  `json:"emergencyTimestamp"`
	Resolved           bool   `json:"resolved"`
	Paused             bool   `json:"paused"`
	Creator            string `json:"creator"`
}

// Manager exposes the adapter's persistent state: the question ledger, token
// balances and role grants. It implements the resolution engine's state
// interface over a storage.Database. Records are never deleted; absence is
// encoded by the question's empty ancillary payload, matching the engine's
// existence sentinel.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func questionKey(id [32]byte) []byte {
	return []byte(questionPrefix + hex.EncodeToString(id[:]))
}

func balanceKey(token, addr [20]byte) []byte {
	return []byte(balancePrefix + hex.EncodeToString(token[:]) + "/" + hex.EncodeToString(addr[:]))
}

func roleKey(role string, addr []byte) []byte {
	return []byte(rolePrefix + role + "/" + hex.EncodeToString(addr))
}

// QuestionPut persists the sanitized record under its fingerprint.
func (m *Manager) QuestionPut(q *market.Question) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	sanitized, err := market.SanitizeQuestion(q)
	if err != nil {
		return err
	}
	raw, err := encodeQuestion(sanitized)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(questionKey(sanitized.ID), raw)
}

// QuestionGet loads the record stored under the fingerprint, reporting false
// when no record has been written.
func (m *Manager) QuestionGet(id [32]byte) (*market.Question, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	m.mu.Lock()
	raw, err := m.db.Get(questionKey(id))
	m.mu.Unlock()
	if err != nil {
		return nil, false
	}
	q, err := decodeQuestion(raw)
	if err != nil {
		return nil, false
	}
	return q, true
}

// QuestionExists reports whether an initialized record is stored under the
// fingerprint.
func (m *Manager) QuestionExists(id [32]byte) bool {
	q, ok := m.QuestionGet(id)
	return ok && q.Initialized()
}

// Transfer moves reward-token value between accounts. The move is
// all-or-nothing: an insufficient source balance fails without touching
// either account.
func (m *Manager) Transfer(token [20]byte, from, to [20]byte, amount *big.Int) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fromBal, err := m.readBalance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", errInsufficient, fromBal, amount)
	}
	toBal, err := m.readBalance(token, to)
	if err != nil {
		return err
	}
	if err := m.writeBalance(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.writeBalance(token, to, new(big.Int).Add(toBal, amount))
}

// Balance reads the stored balance for (token, account).
func (m *Manager) Balance(token, addr [20]byte) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBalance(token, addr)
}

// Credit adds value to an account. Used to seed balances at bootstrap and in
// tests.
func (m *Manager) Credit(token, addr [20]byte, amount *big.Int) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.readBalance(token, addr)
	if err != nil {
		return err
	}
	return m.writeBalance(token, addr, new(big.Int).Add(current, amount))
}

func (m *Manager) readBalance(token, addr [20]byte) (*big.Int, error) {
	raw, err := m.db.Get(balanceKey(token, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt balance record %q", raw)
	}
	return value, nil
}

func (m *Manager) writeBalance(token, addr [20]byte, amount *big.Int) error {
	return m.db.Put(balanceKey(token, addr), []byte(amount.String()))
}

// HasRole reports whether the address carries the named role.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if m == nil || m.db == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.db.Has(roleKey(role, addr))
	return err == nil && ok
}

// GrantRole records a role grant for the address.
func (m *Manager) GrantRole(role string, addr []byte) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(roleKey(role, addr), []byte{1})
}
