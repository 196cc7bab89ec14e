package market

import (
	"fmt"
	"math/big"
)

// PayoutsForPrice converts a settled oracle price into the two-element payout
// vector reported to the condition ledger, ordered [YES share, NO share].
// Only the three canonical prices are accepted; anything else is a hard
// failure rather than a clamp.
func PayoutsForPrice(price *big.Int) ([2]uint64, error) {
	if price == nil {
		return [2]uint64{}, fmt.Errorf("%w: nil price", ErrInvalidPrice)
	}
	switch {
	case price.Cmp(PriceNo) == 0:
		return [2]uint64{0, 1}, nil
	case price.Cmp(PriceUnknown) == 0:
		return [2]uint64{1, 1}, nil
	case price.Cmp(PriceYes) == 0:
		return [2]uint64{1, 0}, nil
	default:
		return [2]uint64{}, fmt.Errorf("%w: %s", ErrInvalidPrice, price.String())
	}
}

// OutcomeLabel renders the human-readable outcome for a payout vector.
func OutcomeLabel(payouts [2]uint64) string {
	switch payouts {
	case [2]uint64{1, 0}:
		return "yes"
	case [2]uint64{0, 1}:
		return "no"
	case [2]uint64{1, 1}:
		return "unknown"
	default:
		return fmt.Sprintf("%d/%d", payouts[0], payouts[1])
	}
}
