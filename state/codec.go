package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"ctfadapter/native/market"
)

func encodeQuestion(q *market.Question) ([]byte, error) {
	stored := storedQuestion{
		ID:                 hex.EncodeToString(q.ID[:]),
		RequestTimestamp:   q.RequestTimestamp,
		AncillaryData:      hex.EncodeToString(q.AncillaryData),
		RewardToken:        hex.EncodeToString(q.RewardToken[:]),
		Reward:             q.Reward.String(),
		ProposalBond:       q.ProposalBond.String(),
		EmergencyTimestamp: q.EmergencyTimestamp,
		Resolved:           q.Resolved,
		Paused:             q.Paused,
		Creator:            hex.EncodeToString(q.Creator[:]),
	}
	return json.Marshal(stored)
}

func decodeQuestion(raw []byte) (*market.Question, error) {
	var stored storedQuestion
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode question: %w", err)
	}
	q := &market.Question{
		RequestTimestamp:   stored.RequestTimestamp,
		EmergencyTimestamp: stored.EmergencyTimestamp,
		Resolved:           stored.Resolved,
		Paused:             stored.Paused,
	}
	if err := decodeHash(stored.ID, &q.ID); err != nil {
		return nil, err
	}
	if err := decodeAddress(stored.RewardToken, &q.RewardToken); err != nil {
		return nil, err
	}
	if err := decodeAddress(stored.Creator, &q.Creator); err != nil {
		return nil, err
	}
	payload, err := hex.DecodeString(stored.AncillaryData)
	if err != nil {
		return nil, fmt.Errorf("state: decode ancillary data: %w", err)
	}
	q.AncillaryData = payload
	if q.Reward, err = decodeAmount(stored.Reward); err != nil {
		return nil, err
	}
	if q.ProposalBond, err = decodeAmount(stored.ProposalBond); err != nil {
		return nil, err
	}
	return q, nil
}

func decodeHash(s string, out *[32]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("state: corrupt hash field %q", s)
	}
	copy(out[:], raw)
	return nil
}

func decodeAddress(s string, out *[20]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return fmt.Errorf("state: corrupt address field %q", s)
	}
	copy(out[:], raw)
	return nil
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt amount field %q", s)
	}
	return value, nil
}
