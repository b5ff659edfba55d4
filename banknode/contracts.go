package banknode

import (
	"context"

	"github.com/btcsuite/btcutil"

	"bcrnode/crypto"
	"bcrnode/core/types"
)

// UTXO is a spendable wallet output.
type UTXO struct {
	OutPoint      types.OutPoint
	PkScript      []byte
	Value         btcutil.Amount
	Confirmations int64
}

// Chain exposes the block chain view the controller needs.
type Chain interface {
	IsInitialSync(ctx context.Context) (bool, error)
	CurrentHeight(ctx context.Context) (int64, error)
}

// Wallet exposes the local wallet's outputs and keys. HoldOutput must make
// the wallet refuse to spend the output until ReleaseOutput is called;
// releasing an output that is not held returns ErrNoCollateralHeld.
type Wallet interface {
	AvailableOutputs(ctx context.Context) ([]UTXO, error)
	IsLocked(ctx context.Context) (bool, error)
	LookupPrivateKey(ctx context.Context, id crypto.KeyID) (*crypto.PrivateKey, error)
	HoldOutput(ctx context.Context, op types.OutPoint) error
	ReleaseOutput(ctx context.Context, op types.OutPoint) error
}

// Prober checks that the node accepts inbound connections on its service
// address.
type Prober interface {
	CanReachSelf(ctx context.Context, service types.Service) bool
}

// AddressResolver finds an externally reachable local address.
type AddressResolver interface {
	DetectReachableAddress(ctx context.Context) (types.Service, bool)
}

// Clock returns network adjusted time in unix seconds.
type Clock interface {
	AdjustedTime() int64
}

// Directory is the network wide registry of banknodes. Implementations do
// their own locking; Relay calls are fire and forget gossip.
type Directory interface {
	Find(op types.OutPoint) (*types.BanknodeEntry, bool)
	Insert(entry types.BanknodeEntry) error
	Remove(op types.OutPoint) error
	UpdateLastSeen(op types.OutPoint, ts int64) error
	RelayAnnouncement(ann *types.Announcement) error
	RelayPing(ping *types.Ping) error
}

// OperatorKeySource yields the operator key from configuration. It is called
// whenever a message has to be signed.
type OperatorKeySource func() (crypto.OperatorKey, error)
