package market

import (
	"errors"
	"math/big"
	"testing"
)

func TestPayoutsForPrice(t *testing.T) {
	cases := []struct {
		name    string
		price   *big.Int
		want    [2]uint64
		wantErr bool
	}{
		{"no", big.NewInt(0), [2]uint64{0, 1}, false},
		{"unknown", new(big.Int).Set(PriceUnknown), [2]uint64{1, 1}, false},
		{"yes", new(big.Int).Set(PriceYes), [2]uint64{1, 0}, false},
		{"nil", nil, [2]uint64{}, true},
		{"negative", big.NewInt(-1), [2]uint64{}, true},
		{"off by one", new(big.Int).Add(PriceYes, big.NewInt(1)), [2]uint64{}, true},
		{"arbitrary", big.NewInt(123_456), [2]uint64{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PayoutsForPrice(tc.price)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPrice) {
					t.Fatalf("expected ErrInvalidPrice, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestOutcomeLabel(t *testing.T) {
	if OutcomeLabel([2]uint64{1, 0}) != "yes" {
		t.Fatalf("expected yes label")
	}
	if OutcomeLabel([2]uint64{0, 1}) != "no" {
		t.Fatalf("expected no label")
	}
	if OutcomeLabel([2]uint64{1, 1}) != "unknown" {
		t.Fatalf("expected unknown label")
	}
	if OutcomeLabel([2]uint64{3, 4}) != "3/4" {
		t.Fatalf("expected raw label for non-canonical vector")
	}
}
