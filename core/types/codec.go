package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/rlp"
)

var ErrNegativeTime = errors.New("types: negative timestamp")

type rlpOutPoint struct {
	Hash  [chainhash.HashSize]byte
	Index uint32
}

type rlpAnnouncement struct {
	OutPoint         rlpOutPoint
	Service          string
	Signature        []byte
	SigTime          uint64
	CollateralPubKey []byte
	OperatorPubKey   []byte
	ProtocolVersion  uint32
}

type rlpPing struct {
	OutPoint  rlpOutPoint
	Signature []byte
	SigTime   uint64
	Stop      bool
}

type rlpEntry struct {
	OutPoint         rlpOutPoint
	Service          string
	CollateralPubKey []byte
	OperatorPubKey   []byte
	Signature        []byte
	SigTime          uint64
	ProtocolVersion  uint32
	LastSeen         uint64
}

func toRLPOutPoint(op OutPoint) rlpOutPoint {
	return rlpOutPoint{Hash: op.Hash, Index: op.Index}
}

func (o rlpOutPoint) outPoint() OutPoint {
	return OutPoint{Hash: chainhash.Hash(o.Hash), Index: o.Index}
}

func toUnix(ts int64) (uint64, error) {
	if ts < 0 {
		return 0, ErrNegativeTime
	}
	return uint64(ts), nil
}

func fromUnix(ts uint64) (int64, error) {
	if ts > math.MaxInt64 {
		return 0, fmt.Errorf("types: timestamp %d overflows", ts)
	}
	return int64(ts), nil
}

func decodeService(s string) (Service, error) {
	if s == "" {
		return Service{}, nil
	}
	return ParseService(s)
}

// EncodeAnnouncement serialises an announcement for the wire.
func EncodeAnnouncement(a *Announcement) ([]byte, error) {
	sigTime, err := toUnix(a.SigTime)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&rlpAnnouncement{
		OutPoint:         toRLPOutPoint(a.OutPoint),
		Service:          a.Service.String(),
		Signature:        a.Signature,
		SigTime:          sigTime,
		CollateralPubKey: a.CollateralPubKey,
		OperatorPubKey:   a.OperatorPubKey,
		ProtocolVersion:  a.ProtocolVersion,
	})
}

// DecodeAnnouncement parses an announcement produced by EncodeAnnouncement.
func DecodeAnnouncement(b []byte) (*Announcement, error) {
	var raw rlpAnnouncement
	if err := rlp.DecodeBytes(b, &raw); err != nil {
		return nil, fmt.Errorf("types: decode announcement: %w", err)
	}
	service, err := decodeService(raw.Service)
	if err != nil {
		return nil, err
	}
	sigTime, err := fromUnix(raw.SigTime)
	if err != nil {
		return nil, err
	}
	return &Announcement{
		OutPoint:         raw.OutPoint.outPoint(),
		Service:          service,
		Signature:        raw.Signature,
		SigTime:          sigTime,
		CollateralPubKey: raw.CollateralPubKey,
		OperatorPubKey:   raw.OperatorPubKey,
		ProtocolVersion:  raw.ProtocolVersion,
	}, nil
}

// EncodePing serialises a ping for the wire.
func EncodePing(p *Ping) ([]byte, error) {
	sigTime, err := toUnix(p.SigTime)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&rlpPing{
		OutPoint:  toRLPOutPoint(p.OutPoint),
		Signature: p.Signature,
		SigTime:   sigTime,
		Stop:      p.Stop,
	})
}

// DecodePing parses a ping produced by EncodePing.
func DecodePing(b []byte) (*Ping, error) {
	var raw rlpPing
	if err := rlp.DecodeBytes(b, &raw); err != nil {
		return nil, fmt.Errorf("types: decode ping: %w", err)
	}
	sigTime, err := fromUnix(raw.SigTime)
	if err != nil {
		return nil, err
	}
	return &Ping{
		OutPoint:  raw.OutPoint.outPoint(),
		Signature: raw.Signature,
		SigTime:   sigTime,
		Stop:      raw.Stop,
	}, nil
}

// EncodeEntry serialises a directory entry for storage.
func EncodeEntry(e *BanknodeEntry) ([]byte, error) {
	sigTime, err := toUnix(e.SigTime)
	if err != nil {
		return nil, err
	}
	lastSeen, err := toUnix(e.LastSeen)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&rlpEntry{
		OutPoint:         toRLPOutPoint(e.OutPoint),
		Service:          e.Service.String(),
		CollateralPubKey: e.CollateralPubKey,
		OperatorPubKey:   e.OperatorPubKey,
		Signature:        e.Signature,
		SigTime:          sigTime,
		ProtocolVersion:  e.ProtocolVersion,
		LastSeen:         lastSeen,
	})
}

// DecodeEntry parses an entry produced by EncodeEntry.
func DecodeEntry(b []byte) (*BanknodeEntry, error) {
	var raw rlpEntry
	if err := rlp.DecodeBytes(b, &raw); err != nil {
		return nil, fmt.Errorf("types: decode entry: %w", err)
	}
	service, err := decodeService(raw.Service)
	if err != nil {
		return nil, err
	}
	sigTime, err := fromUnix(raw.SigTime)
	if err != nil {
		return nil, err
	}
	lastSeen, err := fromUnix(raw.LastSeen)
	if err != nil {
		return nil, err
	}
	return &BanknodeEntry{
		OutPoint:         raw.OutPoint.outPoint(),
		Service:          service,
		CollateralPubKey: raw.CollateralPubKey,
		OperatorPubKey:   raw.OperatorPubKey,
		Signature:        raw.Signature,
		SigTime:          sigTime,
		ProtocolVersion:  raw.ProtocolVersion,
		LastSeen:         lastSeen,
	}, nil
}
