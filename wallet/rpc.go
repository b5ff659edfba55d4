// Package wallet adapts a Bitcredit wallet daemon's JSON-RPC interface to the
// chain, wallet and clock contracts of the banknode controller.
package wallet

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/rpc"

	"bcrnode/banknode"
	"bcrnode/crypto"
	"bcrnode/core/types"
)

const defaultTimeout = 15 * time.Second

// Config locates the wallet daemon.
type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// Option customises a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNow overrides the wall clock used for adjusted time and hold records.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client talks to the wallet daemon. It implements banknode.Chain,
// banknode.Wallet and banknode.Clock.
type Client struct {
	rpc    *rpc.Client
	ledger *HoldLedger
	logger *slog.Logger
	now    func() time.Time

	timeOffset atomic.Int64
}

var (
	_ banknode.Chain  = (*Client)(nil)
	_ banknode.Wallet = (*Client)(nil)
	_ banknode.Clock  = (*Client)(nil)
)

// Dial connects to the daemon at cfg.URL. Holds are recorded in ledger.
func Dial(ctx context.Context, cfg Config, ledger *HoldLedger, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("wallet: rpc url required")
	}
	if ledger == nil {
		return nil, errors.New("wallet: hold ledger required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clientOpts := []rpc.ClientOption{rpc.WithHTTPClient(&http.Client{Timeout: timeout})}
	if cfg.User != "" || cfg.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Password))
		clientOpts = append(clientOpts, rpc.WithHTTPAuth(func(h http.Header) error {
			h.Set("Authorization", "Basic "+token)
			return nil
		}))
	}
	client, err := rpc.DialOptions(ctx, cfg.URL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial %s: %w", cfg.URL, err)
	}
	c := &Client{
		rpc:    client,
		ledger: ledger,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "wallet_rpc"))
	return c, nil
}

// Close shuts the RPC client down. The hold ledger is owned by the caller.
func (c *Client) Close() {
	c.rpc.Close()
}

type blockchainInfo struct {
	Blocks               int64 `json:"blocks"`
	InitialBlockDownload bool  `json:"initialblockdownload"`
}

func (c *Client) blockchainInfo(ctx context.Context) (blockchainInfo, error) {
	var info blockchainInfo
	if err := c.rpc.CallContext(ctx, &info, "getblockchaininfo"); err != nil {
		return blockchainInfo{}, fmt.Errorf("wallet: getblockchaininfo: %w", err)
	}
	return info, nil
}

func (c *Client) IsInitialSync(ctx context.Context) (bool, error) {
	info, err := c.blockchainInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.InitialBlockDownload, nil
}

func (c *Client) CurrentHeight(ctx context.Context) (int64, error) {
	info, err := c.blockchainInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Blocks, nil
}

type unspentOutput struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	Spendable     *bool   `json:"spendable,omitempty"`
}

// AvailableOutputs lists spendable outputs in the order the daemon returns
// them. Outputs locked by lockunspent are excluded by the daemon.
func (c *Client) AvailableOutputs(ctx context.Context) ([]banknode.UTXO, error) {
	var raw []unspentOutput
	if err := c.rpc.CallContext(ctx, &raw, "listunspent", 0); err != nil {
		return nil, fmt.Errorf("wallet: listunspent: %w", err)
	}
	out := make([]banknode.UTXO, 0, len(raw))
	for _, u := range raw {
		if u.Spendable != nil && !*u.Spendable {
			continue
		}
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("wallet: listunspent txid %q: %w", u.TxID, err)
		}
		script, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("wallet: listunspent script for %s:%d: %w", u.TxID, u.Vout, err)
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("wallet: listunspent amount for %s:%d: %w", u.TxID, u.Vout, err)
		}
		out = append(out, banknode.UTXO{
			OutPoint:      types.OutPoint{Hash: *hash, Index: u.Vout},
			PkScript:      script,
			Value:         amount,
			Confirmations: u.Confirmations,
		})
	}
	return out, nil
}

type walletInfo struct {
	// UnlockedUntil is only reported for encrypted wallets; zero means locked.
	UnlockedUntil *int64 `json:"unlocked_until,omitempty"`
}

func (c *Client) IsLocked(ctx context.Context) (bool, error) {
	var info walletInfo
	if err := c.rpc.CallContext(ctx, &info, "getwalletinfo"); err != nil {
		return false, fmt.Errorf("wallet: getwalletinfo: %w", err)
	}
	return info.UnlockedUntil != nil && *info.UnlockedUntil == 0, nil
}

// LookupPrivateKey exports the key for id from the wallet.
func (c *Client) LookupPrivateKey(ctx context.Context, id crypto.KeyID) (*crypto.PrivateKey, error) {
	var wif string
	if err := c.rpc.CallContext(ctx, &wif, "dumpprivkey", id.Address().String()); err != nil {
		return nil, fmt.Errorf("wallet: dumpprivkey: %w", err)
	}
	key, err := crypto.ParsePrivateKey(wif)
	if err != nil {
		return nil, err
	}
	if key.PubKey().KeyID() != id {
		return nil, fmt.Errorf("%w: wallet returned key for another address", crypto.ErrInvalidKey)
	}
	return key, nil
}

type lockOutpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (c *Client) lockUnspent(ctx context.Context, unlock bool, op types.OutPoint) error {
	var ok bool
	if err := c.rpc.CallContext(ctx, &ok, "lockunspent", unlock, []lockOutpoint{{TxID: op.Hash.String(), Vout: op.Index}}); err != nil {
		return fmt.Errorf("wallet: lockunspent: %w", err)
	}
	if !ok {
		return fmt.Errorf("wallet: lockunspent %s refused", op)
	}
	return nil
}

// HoldOutput locks op in the daemon and records the hold.
func (c *Client) HoldOutput(ctx context.Context, op types.OutPoint) error {
	if err := c.lockUnspent(ctx, false, op); err != nil {
		return err
	}
	if err := c.ledger.Put(op, c.now()); err != nil {
		return fmt.Errorf("wallet: record hold: %w", err)
	}
	c.logger.Info("Collateral held", slog.String("vin", op.String()))
	return nil
}

// ReleaseOutput unlocks op. It fails with banknode.ErrNoCollateralHeld when
// the ledger has no hold on op.
func (c *Client) ReleaseOutput(ctx context.Context, op types.OutPoint) error {
	held, err := c.ledger.Has(op)
	if err != nil {
		return fmt.Errorf("wallet: read hold: %w", err)
	}
	if !held {
		return fmt.Errorf("%w: %s", banknode.ErrNoCollateralHeld, op)
	}
	if err := c.lockUnspent(ctx, true, op); err != nil {
		return err
	}
	if err := c.ledger.Delete(op); err != nil && !errors.Is(err, ErrHoldNotFound) {
		return fmt.Errorf("wallet: clear hold: %w", err)
	}
	c.logger.Info("Collateral released", slog.String("vin", op.String()))
	return nil
}

// ReleaseHolds unlocks every hold recorded by a previous run and clears it
// from the ledger. Held outputs are hidden from AvailableOutputs; the
// controller takes a fresh hold when it registers again. Records that cannot
// be released stay in the ledger.
func (c *Client) ReleaseHolds(ctx context.Context) (int, error) {
	records, err := c.ledger.List()
	if err != nil {
		return 0, err
	}
	var errs []error
	released := 0
	for _, rec := range records {
		op, err := types.ParseOutPoint(rec.OutPoint)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.ReleaseOutput(ctx, op); err != nil {
			errs = append(errs, err)
			continue
		}
		released++
	}
	return released, errors.Join(errs...)
}

type networkInfo struct {
	TimeOffset int64 `json:"timeoffset"`
}

// RefreshTimeOffset fetches the daemon's peer-median time offset.
func (c *Client) RefreshTimeOffset(ctx context.Context) error {
	var info networkInfo
	if err := c.rpc.CallContext(ctx, &info, "getnetworkinfo"); err != nil {
		return fmt.Errorf("wallet: getnetworkinfo: %w", err)
	}
	c.timeOffset.Store(info.TimeOffset)
	return nil
}

// AdjustedTime returns local time corrected by the last fetched offset.
func (c *Client) AdjustedTime() int64 {
	return c.now().Unix() + c.timeOffset.Load()
}
