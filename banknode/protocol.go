package banknode

import (
	"context"
	"log/slog"

	"bcrnode/crypto"
	"bcrnode/core/types"
)

const (
	messageAnnounce = "announce"
	messagePing     = "ping"
	messageStop     = "stop"
)

// register signs an announcement binding vin, service and the operator key
// with the collateral key, adds it to the directory when absent and relays
// it. Relaying happens even when the directory already knows the outpoint.
func (c *Controller) register(ctx context.Context, vin types.OutPoint, service types.Service, collateral crypto.CollateralKey, operator crypto.OperatorKey) error {
	if collateral.PrivateKey == nil {
		return newError(KindCollateralKey, "nil collateral key")
	}
	if operator.PrivateKey == nil {
		return newError(KindOperatorKey, "nil operator key")
	}

	sigTime := c.clock.AdjustedTime()
	ann := &types.Announcement{
		OutPoint:         vin,
		Service:          service,
		SigTime:          sigTime,
		CollateralPubKey: collateral.PubKey().Bytes(),
		OperatorPubKey:   operator.PubKey().Bytes(),
		ProtocolVersion:  c.cfg.ProtocolVersion,
	}
	msg := ann.SignBytes()

	sig, err := crypto.SignMessage(collateral.PrivateKey, msg)
	if err != nil {
		return wrapError(KindSigning, err, "announcement")
	}
	if err := crypto.VerifyMessage(collateral.PubKey(), sig, msg); err != nil {
		return wrapError(KindVerification, err, "announcement")
	}
	ann.Signature = sig

	if _, found := c.directory.Find(vin); !found {
		c.logger.Info("Adding banknode to directory",
			slog.String("service", service.String()),
			slog.String("vin", vin.String()))
		if err := c.directory.Insert(ann.Entry()); err != nil {
			return wrapError(KindDirectory, err, "insert %s", vin)
		}
	}

	c.logger.Info("Relaying banknode announcement", slog.String("vin", vin.String()))
	if err := c.directory.RelayAnnouncement(ann); err != nil {
		return wrapError(KindDirectory, err, "relay announcement %s", vin)
	}
	c.metrics.recordMessage(messageAnnounce)
	return nil
}

// ping signs a liveness message with the operator key and applies it to the
// directory: refresh last seen, or remove the entry when stop is set. It
// returns a KindNotInDirectory error without relaying anything when the
// directory does not know vin.
func (c *Controller) ping(ctx context.Context, vin types.OutPoint, service types.Service, operator crypto.OperatorKey, stop bool) error {
	if operator.PrivateKey == nil {
		return newError(KindOperatorKey, "nil operator key")
	}

	sigTime := c.clock.AdjustedTime()
	msg := types.PingSignBytes(service, sigTime, stop)

	sig, err := crypto.SignMessage(operator.PrivateKey, msg)
	if err != nil {
		return wrapError(KindSigning, err, "ping")
	}
	if err := crypto.VerifyMessage(operator.PubKey(), sig, msg); err != nil {
		return wrapError(KindVerification, err, "ping")
	}

	if _, found := c.directory.Find(vin); !found {
		return newError(KindNotInDirectory, "shutting down banknode pinging service for %s", vin)
	}
	if stop {
		if err := c.directory.Remove(vin); err != nil {
			return wrapError(KindDirectory, err, "remove %s", vin)
		}
	} else if err := c.directory.UpdateLastSeen(vin, sigTime); err != nil {
		return wrapError(KindDirectory, err, "update last seen %s", vin)
	}

	c.logger.Info("Relaying banknode ping", slog.String("vin", vin.String()), slog.Bool("stop", stop))
	if err := c.directory.RelayPing(&types.Ping{
		OutPoint:  vin,
		Signature: sig,
		SigTime:   sigTime,
		Stop:      stop,
	}); err != nil {
		return wrapError(KindDirectory, err, "relay ping %s", vin)
	}
	if stop {
		c.metrics.recordMessage(messageStop)
	} else {
		c.metrics.recordMessage(messagePing)
	}
	return nil
}
