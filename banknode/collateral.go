package banknode

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"

	"bcrnode/crypto"
	"bcrnode/core/types"
)

var (
	ErrCollateralNotFound = errors.New("banknode: requested collateral output not found")
	ErrNotSingleKey       = errors.New("banknode: collateral script is not a single key destination")
	ErrKeyNotHeld         = errors.New("banknode: private key for collateral address is not known")
)

// CollateralFilter narrows candidate selection. Zero value means no filter.
type CollateralFilter struct {
	Address  *crypto.Address
	OutPoint *types.OutPoint
}

// CollateralSelector finds wallet outputs usable as banknode collateral.
type CollateralSelector struct {
	wallet Wallet
	chain  Chain
	policy CollateralPolicy
}

func NewCollateralSelector(wallet Wallet, chain Chain, policy CollateralPolicy) *CollateralSelector {
	return &CollateralSelector{wallet: wallet, chain: chain, policy: policy}
}

// SelectCandidates returns every available output whose value is exactly the
// amount required at the current height, narrowed by filter. An outpoint
// filter that matches nothing yields ErrCollateralNotFound.
func (s *CollateralSelector) SelectCandidates(ctx context.Context, filter CollateralFilter) ([]UTXO, error) {
	height, err := s.chain.CurrentHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("banknode: current height: %w", err)
	}
	outputs, err := s.wallet.AvailableOutputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("banknode: available outputs: %w", err)
	}

	var script []byte
	if filter.Address != nil {
		addr, err := filter.Address.BTCUtil()
		if err != nil {
			return nil, err
		}
		script, err = txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("banknode: collateral address script: %w", err)
		}
	}

	required := s.policy.RequiredAmount(height)
	candidates := make([]UTXO, 0, len(outputs))
	for _, out := range outputs {
		if out.Value != required {
			continue
		}
		if script != nil && !bytes.Equal(out.PkScript, script) {
			continue
		}
		candidates = append(candidates, out)
	}

	if filter.OutPoint != nil {
		for _, c := range candidates {
			if c.OutPoint == *filter.OutPoint {
				return []UTXO{c}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCollateralNotFound, filter.OutPoint)
	}
	return candidates, nil
}

// Select returns the first candidate in wallet order.
func (s *CollateralSelector) Select(ctx context.Context, filter CollateralFilter) (UTXO, error) {
	candidates, err := s.SelectCandidates(ctx, filter)
	if err != nil {
		return UTXO{}, err
	}
	if len(candidates) == 0 {
		return UTXO{}, ErrNoCollateral
	}
	return candidates[0], nil
}

// DeriveCollateralKey resolves the output's destination to a key identity and
// fetches the matching private key from the wallet.
func DeriveCollateralKey(ctx context.Context, wallet Wallet, out UTXO) (crypto.CollateralKey, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, crypto.NetParams)
	if err != nil || len(addrs) != 1 {
		return crypto.CollateralKey{}, ErrNotSingleKey
	}

	var id crypto.KeyID
	switch class {
	case txscript.PubKeyHashTy:
		a, ok := addrs[0].(*btcutil.AddressPubKeyHash)
		if !ok {
			return crypto.CollateralKey{}, ErrNotSingleKey
		}
		id = crypto.KeyID(*a.Hash160())
	case txscript.PubKeyTy:
		a, ok := addrs[0].(*btcutil.AddressPubKey)
		if !ok {
			return crypto.CollateralKey{}, ErrNotSingleKey
		}
		id = crypto.KeyID(*a.AddressPubKeyHash().Hash160())
	default:
		return crypto.CollateralKey{}, ErrNotSingleKey
	}

	key, err := wallet.LookupPrivateKey(ctx, id)
	if err != nil {
		return crypto.CollateralKey{}, fmt.Errorf("%w: %s: %v", ErrKeyNotHeld, id.Address(), err)
	}
	if key == nil {
		return crypto.CollateralKey{}, fmt.Errorf("%w: %s", ErrKeyNotHeld, id.Address())
	}
	return crypto.CollateralKey{PrivateKey: key}, nil
}
