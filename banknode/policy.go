package banknode

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcutil"
)

// DefaultActivationHeight is the height from which the lower collateral
// amount applies.
const DefaultActivationHeight = 145000

// CollateralEra requires Amount as collateral from Height onwards.
type CollateralEra struct {
	Height int64
	Amount btcutil.Amount
}

// CollateralPolicy maps chain heights to the exact collateral amount.
type CollateralPolicy struct {
	eras []CollateralEra
}

// DefaultCollateralPolicy is 250 000 BCR before DefaultActivationHeight and
// 50 000 BCR from it on.
var DefaultCollateralPolicy = MustCollateralPolicy(
	CollateralEra{Height: 0, Amount: 250000 * btcutil.SatoshiPerBitcoin},
	CollateralEra{Height: DefaultActivationHeight, Amount: 50000 * btcutil.SatoshiPerBitcoin},
)

// NewCollateralPolicy validates eras: the first starts at height zero,
// heights strictly increase and every amount is positive.
func NewCollateralPolicy(eras ...CollateralEra) (CollateralPolicy, error) {
	if len(eras) == 0 {
		return CollateralPolicy{}, errors.New("banknode: collateral policy needs at least one era")
	}
	sorted := append([]CollateralEra(nil), eras...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })
	if sorted[0].Height != 0 {
		return CollateralPolicy{}, fmt.Errorf("banknode: first collateral era starts at %d, want 0", sorted[0].Height)
	}
	for i, era := range sorted {
		if era.Amount <= 0 {
			return CollateralPolicy{}, fmt.Errorf("banknode: collateral era at %d has non-positive amount", era.Height)
		}
		if i > 0 && era.Height == sorted[i-1].Height {
			return CollateralPolicy{}, fmt.Errorf("banknode: duplicate collateral era height %d", era.Height)
		}
	}
	return CollateralPolicy{eras: sorted}, nil
}

func MustCollateralPolicy(eras ...CollateralEra) CollateralPolicy {
	p, err := NewCollateralPolicy(eras...)
	if err != nil {
		panic(err)
	}
	return p
}

// RequiredAmount returns the collateral amount in force at height.
func (p CollateralPolicy) RequiredAmount(height int64) btcutil.Amount {
	eras := p.eras
	if len(eras) == 0 {
		eras = DefaultCollateralPolicy.eras
	}
	idx := sort.Search(len(eras), func(i int) bool { return eras[i].Height > height })
	if idx == 0 {
		return eras[0].Amount
	}
	return eras[idx-1].Amount
}

// Eras returns a copy of the era table.
func (p CollateralPolicy) Eras() []CollateralEra {
	return append([]CollateralEra(nil), p.eras...)
}
