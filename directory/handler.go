package directory

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"bcrnode/crypto"
	"bcrnode/core/types"
	"bcrnode/p2p"
)

const (
	// TimestampToleranceSeconds bounds the skew between a message's signature
	// time and local adjusted time.
	TimestampToleranceSeconds = 60 * 60

	defaultRateLimit = 50
	defaultRateBurst = 100
)

var (
	ErrTimestampOutOfRange = errors.New("directory: signature time outside tolerance")
	ErrProtocolVersion     = errors.New("directory: protocol version too old")
	ErrBadSignature        = errors.New("directory: signature verification failed")
	ErrKeyMismatch         = errors.New("directory: announcement collateral key changed")
	ErrRateLimited         = errors.New("directory: inbound gossip rate exceeded")
)

// Clock returns network adjusted time in unix seconds.
type Clock interface {
	AdjustedTime() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) AdjustedTime() int64 { return f() }

// HandlerConfig tunes inbound gossip acceptance.
type HandlerConfig struct {
	MinProtocolVersion uint32
	// RateLimit is the sustained number of messages per second accepted;
	// zero selects the default.
	RateLimit float64
	RateBurst int
}

// Handler applies inbound banknode gossip to a Directory. Accepted messages
// that change local state are relayed onwards; duplicates are dropped.
type Handler struct {
	dir     *Directory
	clock   Clock
	cfg     HandlerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewHandler(dir *Directory, clock Clock, cfg HandlerConfig) *Handler {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	return &Handler{
		dir:     dir,
		clock:   clock,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  dir.logger.With(slog.String("component", "banknode_gossip")),
	}
}

// HandleMessage implements p2p.MessageHandler.
func (h *Handler) HandleMessage(msg *p2p.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", p2p.ErrInvalidPayload)
	}
	typeName := p2p.MessageTypeName(msg.Type)
	if !h.limiter.Allow() {
		h.dir.metrics.recordInbound(typeName, "rate_limited")
		return ErrRateLimited
	}

	var (
		relayed bool
		err     error
	)
	switch msg.Type {
	case p2p.MsgTypeBanknodeAnnounce:
		relayed, err = h.handleAnnounce(msg.Payload)
	case p2p.MsgTypeBanknodePing:
		relayed, err = h.handlePing(msg.Payload)
	default:
		err = fmt.Errorf("%w: %s", p2p.ErrUnknownMessage, typeName)
	}

	switch {
	case err != nil:
		h.dir.metrics.recordInbound(typeName, "rejected")
		h.logger.Debug("Rejected banknode gossip", slog.String("type", typeName), slog.Any("error", err))
	case relayed:
		h.dir.metrics.recordInbound(typeName, "accepted")
	default:
		h.dir.metrics.recordInbound(typeName, "duplicate")
	}
	return err
}

func (h *Handler) checkTime(sigTime int64) error {
	now := h.clock.AdjustedTime()
	diff := now - sigTime
	if diff < 0 {
		diff = -diff
	}
	if diff > TimestampToleranceSeconds {
		return fmt.Errorf("%w: %d vs %d", ErrTimestampOutOfRange, sigTime, now)
	}
	return nil
}

func (h *Handler) handleAnnounce(payload []byte) (bool, error) {
	ann, err := types.DecodeAnnouncement(payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", p2p.ErrInvalidPayload, err)
	}
	if err := h.checkTime(ann.SigTime); err != nil {
		return false, err
	}
	if ann.ProtocolVersion < h.cfg.MinProtocolVersion {
		return false, fmt.Errorf("%w: %d < %d", ErrProtocolVersion, ann.ProtocolVersion, h.cfg.MinProtocolVersion)
	}
	collateral, err := crypto.PublicKeyFromBytes(ann.CollateralPubKey)
	if err != nil {
		return false, fmt.Errorf("%w: collateral key: %v", p2p.ErrInvalidPayload, err)
	}
	if _, err := crypto.PublicKeyFromBytes(ann.OperatorPubKey); err != nil {
		return false, fmt.Errorf("%w: operator key: %v", p2p.ErrInvalidPayload, err)
	}
	if err := crypto.VerifyMessage(collateral, ann.Signature, ann.SignBytes()); err != nil {
		return false, fmt.Errorf("%w: announcement %s: %v", ErrBadSignature, ann.OutPoint, err)
	}

	var changed bool
	if existing, ok := h.dir.Find(ann.OutPoint); ok {
		known, err := crypto.PublicKeyFromBytes(existing.CollateralPubKey)
		if err != nil || !known.Equal(collateral) {
			return false, fmt.Errorf("%w: %s", ErrKeyMismatch, ann.OutPoint)
		}
		changed, err = h.dir.replace(ann.Entry())
		if err != nil {
			return false, err
		}
	} else {
		changed, err = h.dir.insert(ann.Entry())
		if err != nil {
			return false, err
		}
	}
	if !changed {
		return false, nil
	}
	h.logger.Info("Accepted banknode announcement",
		slog.String("vin", ann.OutPoint.String()),
		slog.String("service", ann.Service.String()))
	if err := h.dir.RelayAnnouncement(ann); err != nil && !errors.Is(err, ErrNoRelay) {
		h.logger.Warn("Relay announcement failed", slog.Any("error", err))
	}
	return true, nil
}

func (h *Handler) handlePing(payload []byte) (bool, error) {
	ping, err := types.DecodePing(payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", p2p.ErrInvalidPayload, err)
	}
	if err := h.checkTime(ping.SigTime); err != nil {
		return false, err
	}
	entry, ok := h.dir.Find(ping.OutPoint)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownBanknode, ping.OutPoint)
	}
	operator, err := crypto.PublicKeyFromBytes(entry.OperatorPubKey)
	if err != nil {
		return false, fmt.Errorf("directory: stored operator key for %s: %w", ping.OutPoint, err)
	}
	msg := types.PingSignBytes(entry.Service, ping.SigTime, ping.Stop)
	if err := crypto.VerifyMessage(operator, ping.Signature, msg); err != nil {
		return false, fmt.Errorf("%w: ping %s: %v", ErrBadSignature, ping.OutPoint, err)
	}

	var changed bool
	if ping.Stop {
		changed, err = h.dir.remove(ping.OutPoint)
	} else {
		changed, err = h.dir.updateLastSeen(ping.OutPoint, ping.SigTime)
	}
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if ping.Stop {
		h.logger.Info("Banknode stopped by network ping", slog.String("vin", ping.OutPoint.String()))
	}
	if err := h.dir.RelayPing(ping); err != nil && !errors.Is(err, ErrNoRelay) {
		h.logger.Warn("Relay ping failed", slog.Any("error", err))
	}
	return true, nil
}
