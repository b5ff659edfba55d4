package banknode

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"

	"bcrnode/crypto"
	"bcrnode/core/types"
)

var errFake = errors.New("fake failure")

type fakeChain struct {
	syncing bool
	height  int64
	err     error
}

func (c *fakeChain) IsInitialSync(context.Context) (bool, error) { return c.syncing, c.err }
func (c *fakeChain) CurrentHeight(context.Context) (int64, error) { return c.height, c.err }

type fakeWallet struct {
	mu       sync.Mutex
	outputs  []UTXO
	locked   bool
	keys     map[crypto.KeyID]*crypto.PrivateKey
	held     map[types.OutPoint]bool
	holds    int
	releases int
	holdErr  error
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		keys: make(map[crypto.KeyID]*crypto.PrivateKey),
		held: make(map[types.OutPoint]bool),
	}
}

func (w *fakeWallet) AvailableOutputs(context.Context) ([]UTXO, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]UTXO, 0, len(w.outputs))
	for _, o := range w.outputs {
		if !w.held[o.OutPoint] {
			out = append(out, o)
		}
	}
	return out, nil
}

func (w *fakeWallet) IsLocked(context.Context) (bool, error) { return w.locked, nil }

func (w *fakeWallet) LookupPrivateKey(_ context.Context, id crypto.KeyID) (*crypto.PrivateKey, error) {
	key, ok := w.keys[id]
	if !ok {
		return nil, errors.New("key not found")
	}
	return key, nil
}

func (w *fakeWallet) HoldOutput(_ context.Context, op types.OutPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.holdErr != nil {
		return w.holdErr
	}
	w.held[op] = true
	w.holds++
	return nil
}

func (w *fakeWallet) ReleaseOutput(_ context.Context, op types.OutPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.held[op] {
		return ErrNoCollateralHeld
	}
	delete(w.held, op)
	w.releases++
	return nil
}

// addCollateral funds the wallet with a pay-to-pubkey-hash output of value
// owned by a fresh key and returns the output and its key.
func (w *fakeWallet) addCollateral(t *testing.T, index uint32, value btcutil.Amount, confirmations int64) (UTXO, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	out := UTXO{
		OutPoint:      types.OutPoint{Hash: chainhash.DoubleHashH([]byte{byte(index)}), Index: index},
		PkScript:      p2pkhScript(t, key.PubKey().KeyID()),
		Value:         value,
		Confirmations: confirmations,
	}
	w.outputs = append(w.outputs, out)
	w.keys[key.PubKey().KeyID()] = key
	return out, key
}

func p2pkhScript(t *testing.T, id crypto.KeyID) []byte {
	t.Helper()
	addr, err := id.Address().BTCUtil()
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	return script
}

type fakeProber struct{ reachable bool }

func (p *fakeProber) CanReachSelf(context.Context, types.Service) bool { return p.reachable }

type fakeResolver struct {
	service types.Service
	ok      bool
}

func (r *fakeResolver) DetectReachableAddress(context.Context) (types.Service, bool) {
	return r.service, r.ok
}

type fakeClock struct{ now int64 }

func (c *fakeClock) AdjustedTime() int64 { return c.now }

type fakeDirectory struct {
	mu        sync.Mutex
	entries   map[types.OutPoint]types.BanknodeEntry
	inserts   int
	removes   int
	updates   int
	insertErr error
	relayErr  error
	announces []*types.Announcement
	pings     []*types.Ping
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{entries: make(map[types.OutPoint]types.BanknodeEntry)}
}

func (d *fakeDirectory) Find(op types.OutPoint) (*types.BanknodeEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[op]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (d *fakeDirectory) Insert(entry types.BanknodeEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.insertErr != nil {
		return d.insertErr
	}
	d.inserts++
	if _, ok := d.entries[entry.OutPoint]; ok {
		return nil
	}
	d.entries[entry.OutPoint] = entry
	return nil
}

func (d *fakeDirectory) Remove(op types.OutPoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removes++
	delete(d.entries, op)
	return nil
}

func (d *fakeDirectory) UpdateLastSeen(op types.OutPoint, ts int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[op]
	if !ok {
		return errors.New("unknown outpoint")
	}
	d.updates++
	if ts > e.LastSeen {
		e.LastSeen = ts
		d.entries[op] = e
	}
	return nil
}

func (d *fakeDirectory) RelayAnnouncement(ann *types.Announcement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.relayErr != nil {
		return d.relayErr
	}
	d.announces = append(d.announces, ann)
	return nil
}

func (d *fakeDirectory) RelayPing(ping *types.Ping) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.relayErr != nil {
		return d.relayErr
	}
	d.pings = append(d.pings, ping)
	return nil
}

func (d *fakeDirectory) mutations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inserts + d.removes + d.updates
}

// harness wires a controller to fakes describing a node that is fully
// capable once a collateral output is added.
type harness struct {
	chain     *fakeChain
	wallet    *fakeWallet
	prober    *fakeProber
	resolver  *fakeResolver
	clock     *fakeClock
	directory *fakeDirectory
	operator  crypto.OperatorKey
	keyErr    error
	service   types.Service
	ctrl      *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	opKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate operator key: %v", err)
	}
	service, err := types.ParseService("203.0.113.7:8877")
	if err != nil {
		t.Fatalf("parse service: %v", err)
	}
	h := &harness{
		chain:     &fakeChain{height: DefaultActivationHeight + 10},
		wallet:    newFakeWallet(),
		prober:    &fakeProber{reachable: true},
		resolver:  &fakeResolver{service: service, ok: true},
		clock:     &fakeClock{now: 1_700_000_000},
		directory: newFakeDirectory(),
		operator:  crypto.OperatorKey{PrivateKey: opKey},
		service:   service,
	}
	ctrl, err := NewController(Config{}, Deps{
		Chain:     h.chain,
		Wallet:    h.wallet,
		Prober:    h.prober,
		Resolver:  h.resolver,
		Clock:     h.clock,
		Directory: h.directory,
	}, func() (crypto.OperatorKey, error) {
		if h.keyErr != nil {
			return crypto.OperatorKey{}, h.keyErr
		}
		return h.operator, nil
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func postActivationAmount() btcutil.Amount {
	return DefaultCollateralPolicy.RequiredAmount(DefaultActivationHeight)
}
