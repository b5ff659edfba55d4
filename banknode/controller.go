package banknode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bcrnode/crypto"
	"bcrnode/core/types"
)

const (
	// DefaultMinConfirmations is the collateral age required before announcing.
	DefaultMinConfirmations = 15
	// DefaultProtocolVersion is the protocol version carried by announcements.
	DefaultProtocolVersion uint32 = 70003
	// DefaultTickInterval is the cadence of status management ticks.
	DefaultTickInterval = 5 * time.Minute

	closeTimeout = 10 * time.Second
)

// Config holds the operator's banknode settings.
type Config struct {
	// Service is the configured banknode address. Zero means auto-detect.
	Service          types.Service
	MinConfirmations int64
	ProtocolVersion  uint32
	Policy           CollateralPolicy
}

// Deps are the collaborators the controller drives.
type Deps struct {
	Chain     Chain
	Wallet    Wallet
	Prober    Prober
	Resolver  AddressResolver
	Clock     Clock
	Directory Directory
}

func (d Deps) validate() error {
	switch {
	case d.Chain == nil:
		return errors.New("banknode: chain dependency required")
	case d.Wallet == nil:
		return errors.New("banknode: wallet dependency required")
	case d.Prober == nil:
		return errors.New("banknode: prober dependency required")
	case d.Resolver == nil:
		return errors.New("banknode: address resolver dependency required")
	case d.Clock == nil:
		return errors.New("banknode: clock dependency required")
	case d.Directory == nil:
		return errors.New("banknode: directory dependency required")
	}
	return nil
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger used by the controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics toggles prometheus/otel instrumentation (enabled by default).
func WithMetrics(enabled bool) Option {
	return func(c *Controller) {
		if !enabled {
			c.metrics = nil
		}
	}
}

// Controller owns the local banknode state. All exported methods are
// serialised by an internal mutex; a tick that blocks on I/O blocks them too.
type Controller struct {
	cfg       Config
	chain     Chain
	wallet    Wallet
	prober    Prober
	resolver  AddressResolver
	clock     Clock
	directory Directory
	selector  *CollateralSelector
	keys      OperatorKeySource
	logger    *slog.Logger
	metrics   *controllerMetrics

	mu      sync.Mutex
	status  Status
	reason  *Error
	vin     types.OutPoint
	hasVin  bool
	service types.Service
	held    bool
}

// NewController builds a controller in NotProcessed state.
func NewController(cfg Config, deps Deps, keys OperatorKeySource, opts ...Option) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("banknode: operator key source required")
	}
	if cfg.MinConfirmations <= 0 {
		cfg.MinConfirmations = DefaultMinConfirmations
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if len(cfg.Policy.eras) == 0 {
		cfg.Policy = DefaultCollateralPolicy
	}
	c := &Controller{
		cfg:       cfg,
		chain:     deps.Chain,
		wallet:    deps.Wallet,
		prober:    deps.Prober,
		resolver:  deps.Resolver,
		clock:     deps.Clock,
		directory: deps.Directory,
		selector:  NewCollateralSelector(deps.Wallet, deps.Chain, cfg.Policy),
		keys:      keys,
		logger:    slog.Default(),
		metrics:   newControllerMetrics(),
		status:    NotProcessed,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "active_banknode"))
	c.metrics.observeStatus(c.status)
	return c, nil
}

// Snapshot is a read-only view of the controller state.
type Snapshot struct {
	Status     Status
	ReasonKind ErrorKind
	Reason     string
	OutPoint   string
	Service    string
	Held       bool
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Status: c.status, Service: c.service.String(), Held: c.held}
	if c.hasVin {
		snap.OutPoint = c.vin.String()
	}
	if c.reason != nil {
		snap.ReasonKind = c.reason.Kind
		snap.Reason = c.reason.Error()
	}
	return snap
}

// Status returns the current capability status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(s Status, reason *Error) {
	c.status = s
	c.reason = reason
	c.metrics.observeStatus(s)
}

// observation carries what a capability check learned besides TickInputs.
type observation struct {
	candidate  UTXO
	collateral crypto.CollateralKey
}

// gather collects the capability inputs in order, stopping at the first
// failed check.
func (c *Controller) gather(ctx context.Context, logger *slog.Logger) (TickInputs, observation) {
	in := TickInputs{MinConfirmations: c.cfg.MinConfirmations}
	var obs observation

	service := c.cfg.Service
	if !service.IsValid() {
		detected, ok := c.resolver.DetectReachableAddress(ctx)
		if !ok {
			return in, obs
		}
		service = detected
	}
	in.Service = service
	in.AddressResolved = true

	logger.Info("Checking inbound connection", slog.String("service", service.String()))
	if !c.prober.CanReachSelf(ctx, service) {
		return in, obs
	}
	in.Reachable = true

	locked, err := c.wallet.IsLocked(ctx)
	if err != nil {
		logger.Warn("Wallet lock state unavailable", slog.Any("error", err))
		return in, obs
	}
	if locked {
		return in, obs
	}
	in.WalletUnlocked = true

	candidate, err := c.selector.Select(ctx, CollateralFilter{})
	if err != nil {
		if !errors.Is(err, ErrNoCollateral) {
			logger.Warn("Collateral selection failed", slog.Any("error", err))
		}
		return in, obs
	}
	in.CollateralFound = true
	in.Confirmations = candidate.Confirmations
	obs.candidate = candidate
	if in.Confirmations < in.MinConfirmations {
		return in, obs
	}

	key, err := DeriveCollateralKey(ctx, c.wallet, candidate)
	if err != nil {
		logger.Warn("Collateral key unavailable", slog.String("vin", candidate.OutPoint.String()), slog.Any("error", err))
		return in, obs
	}
	in.CollateralKeyOK = true
	obs.collateral = key
	return in, obs
}

// Tick runs one status management cycle. It returns the error that left the
// node short of its goal for this tick, nil when the node announced or
// pinged successfully or had nothing to do.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With(slog.String("tick", uuid.NewString()))
	err := c.tickLocked(ctx, logger)
	c.metrics.recordTick(err)
	return err
}

func (c *Controller) tickLocked(ctx context.Context, logger *slog.Logger) error {
	syncing, err := c.chain.IsInitialSync(ctx)
	if err != nil {
		logger.Warn("Chain sync state unavailable", slog.Any("error", err))
		syncing = true
	}

	in := TickInputs{InitialSync: syncing}
	var obs observation
	if !syncing && NeedsCapabilityCheck(c.status) {
		in, obs = c.gather(ctx, logger)
	}

	t := Next(c.status, in)
	if t.Status != c.status {
		logger.Info("Banknode status changed",
			slog.String("from", c.status.String()),
			slog.String("to", t.Status.String()))
	}
	c.setStatus(t.Status, t.Err)
	if t.Err != nil {
		logger.Info("Banknode not capable", slog.String("reason", t.Err.Error()))
		return t.Err
	}

	switch t.Action {
	case ActionRegister:
		return c.announceLocked(ctx, logger, in.Service, obs)
	case ActionPing:
		return c.heartbeatLocked(ctx, logger)
	default:
		return nil
	}
}

// announceLocked performs the register action of a successful capability
// check. Failures leave the node IsCapable but unannounced; the next tick's
// ping then finds no directory entry and demotes it, which restarts the
// capability check.
func (c *Controller) announceLocked(ctx context.Context, logger *slog.Logger, service types.Service, obs observation) error {
	vin := obs.candidate.OutPoint
	logger.Info("Is capable banknode", slog.String("vin", vin.String()))
	if c.held && c.vin != vin {
		if err := c.releaseLocked(ctx); err != nil {
			return err
		}
	}
	c.vin = vin
	c.hasVin = true
	c.service = service

	if !c.held {
		if err := c.wallet.HoldOutput(ctx, vin); err != nil {
			logger.Error("Failed to hold collateral", slog.String("vin", vin.String()), slog.Any("error", err))
			return wrapError(KindNoCollateralHeld, err, "hold %s", vin)
		}
		c.held = true
	}

	operator, err := c.keys()
	if err != nil {
		logger.Error("Operator key unavailable", slog.Any("error", err))
		return wrapError(KindOperatorKey, err, "")
	}
	if err := c.register(ctx, c.vin, service, obs.collateral, operator); err != nil {
		logger.Error("Registration failed", slog.Any("error", err))
		return err
	}
	return nil
}

func (c *Controller) heartbeatLocked(ctx context.Context, logger *slog.Logger) error {
	if !c.status.Running() {
		return newError(KindNotRunning, "%s", c.status)
	}
	operator, err := c.keys()
	if err != nil {
		logger.Error("Operator key unavailable", slog.Any("error", err))
		return wrapError(KindOperatorKey, err, "")
	}
	err = c.ping(ctx, c.vin, c.service, operator, false)
	if err == nil {
		return nil
	}
	logger.Error("Ping failed", slog.Any("error", err))
	var bnErr *Error
	if errors.As(err, &bnErr) && bnErr.Kind == KindNotInDirectory {
		c.setStatus(NotCapable, bnErr)
		// Held outputs are not listed as available; release so the next
		// capability check can select the collateral again.
		if relErr := c.releaseLocked(ctx); relErr != nil {
			logger.Error("Failed to release collateral", slog.Any("error", relErr))
		}
	}
	return err
}

// EnableHotCold marks the node as announced by a remote cold wallet and
// seeds the outpoint and address used for signing pings from now on. A local
// hold on another outpoint is released first.
func (c *Controller) EnableHotCold(ctx context.Context, vin types.OutPoint, service types.Service) error {
	if !service.IsValid() {
		return fmt.Errorf("%w: empty service", types.ErrInvalidService)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held && c.vin != vin {
		if err := c.releaseLocked(ctx); err != nil {
			return err
		}
	}
	c.vin = vin
	c.hasVin = true
	c.service = service
	c.setStatus(RemotelyEnabled, nil)
	c.logger.Info("Enabled hot/cold banknode, the cold wallet may be shut down",
		slog.String("vin", vin.String()),
		slog.String("service", service.String()))
	return nil
}

// Stop deregisters the local banknode: the node becomes Stopped, the
// collateral is released and a ping with the stop flag is sent. The node
// stays Stopped and the collateral released even if the operator key is
// unavailable or the stop ping fails.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Running() {
		err := newError(KindNotRunning, "%s", c.status)
		c.logger.Warn("Stop refused", slog.Any("error", err))
		return err
	}
	c.setStatus(Stopped, nil)
	if err := c.releaseLocked(ctx); err != nil {
		return err
	}
	operator, err := c.keys()
	if err != nil {
		c.logger.Error("Operator key unavailable, stop ping not sent", slog.Any("error", err))
		return wrapError(KindOperatorKey, err, "")
	}
	if err := c.ping(ctx, c.vin, c.service, operator, true); err != nil {
		c.logger.Error("Stop ping failed", slog.Any("error", err))
		return err
	}
	c.logger.Info("Banknode stopped", slog.String("vin", c.vin.String()))
	return nil
}

// StopRemote deregisters a banknode running elsewhere with its operator key.
// A local hold on vin is released if present; local status is unchanged.
func (c *Controller) StopRemote(ctx context.Context, vin types.OutPoint, service types.Service, operator crypto.OperatorKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.wallet.ReleaseOutput(ctx, vin); err != nil && !errors.Is(err, ErrNoCollateralHeld) {
		return wrapError(KindNoCollateralHeld, err, "release %s", vin)
	}
	if c.hasVin && c.vin == vin {
		c.held = false
	}
	return c.ping(ctx, vin, service, operator, true)
}

// RegisterRemote announces a banknode running at service, paying collateral
// from the output vin held by this wallet. Local status is unchanged.
func (c *Controller) RegisterRemote(ctx context.Context, service types.Service, operator crypto.OperatorKey, vin types.OutPoint) error {
	return c.registerFiltered(ctx, service, operator, CollateralFilter{OutPoint: &vin})
}

// RegisterByAddress announces a banknode running at service using the first
// collateral output paying to collateralAddress.
func (c *Controller) RegisterByAddress(ctx context.Context, service types.Service, operator crypto.OperatorKey, collateralAddress crypto.Address) error {
	return c.registerFiltered(ctx, service, operator, CollateralFilter{Address: &collateralAddress})
}

func (c *Controller) registerFiltered(ctx context.Context, service types.Service, operator crypto.OperatorKey, filter CollateralFilter) error {
	if !service.IsValid() {
		return fmt.Errorf("%w: empty service", types.ErrInvalidService)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate, err := c.selector.Select(ctx, filter)
	if err != nil {
		return wrapError(KindNoCollateral, err, "could not allocate vin")
	}
	collateral, err := DeriveCollateralKey(ctx, c.wallet, candidate)
	if err != nil {
		return wrapError(KindCollateralKey, err, "")
	}
	return c.register(ctx, candidate.OutPoint, service, collateral, operator)
}

// Close releases the collateral hold, if any. It is safe to call repeatedly.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return nil
	}
	return c.releaseLocked(ctx)
}

func (c *Controller) releaseLocked(ctx context.Context) error {
	if !c.held {
		return nil
	}
	if err := c.wallet.ReleaseOutput(ctx, c.vin); err != nil && !errors.Is(err, ErrNoCollateralHeld) {
		return wrapError(KindNoCollateralHeld, err, "release %s", c.vin)
	}
	c.held = false
	c.logger.Info("Released collateral", slog.String("vin", c.vin.String()))
	return nil
}

// Run ticks immediately and then every interval until ctx is cancelled, at
// which point the collateral hold is released.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			c.logger.Error("Failed to release collateral on shutdown", slog.Any("error", err))
		}
	}()

	_ = c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.Tick(ctx)
		}
	}
}
