package types

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// DefaultPort is the Bitcredit P2P port assumed when a service address omits one.
const DefaultPort uint16 = 8877

var ErrInvalidService = errors.New("types: invalid service address")

// OutPoint references a transaction output (txid:index). It is the identity of
// a banknode.
type OutPoint = wire.OutPoint

// ParseOutPoint parses a "txid:index" or "txid-index" string.
func ParseOutPoint(s string) (OutPoint, error) {
	s = strings.TrimSpace(s)
	sep := strings.LastIndexAny(s, ":-")
	if sep <= 0 {
		return OutPoint{}, fmt.Errorf("types: outpoint %q: missing index", s)
	}
	return NewOutPoint(s[:sep], s[sep+1:])
}

// NewOutPoint builds an outpoint from a hex transaction id and a decimal index.
func NewOutPoint(txid, index string) (OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(txid))
	if err != nil {
		return OutPoint{}, fmt.Errorf("types: outpoint txid: %w", err)
	}
	idx, err := strconv.ParseUint(strings.TrimSpace(index), 10, 32)
	if err != nil {
		return OutPoint{}, fmt.Errorf("types: outpoint index: %w", err)
	}
	return OutPoint{Hash: *hash, Index: uint32(idx)}, nil
}

// Service is the reachable network address of a banknode.
type Service struct {
	addr netip.AddrPort
}

func NewService(addr netip.AddrPort) Service {
	return Service{addr: addr}
}

// ParseService parses "ip:port" or a bare IP, in which case DefaultPort is used.
func ParseService(s string) (Service, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Service{}, fmt.Errorf("%w: empty", ErrInvalidService)
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return Service{addr: ap}, nil
	}
	host := strings.Trim(s, "[]")
	ip, err := netip.ParseAddr(host)
	if err != nil {
		h, p, splitErr := net.SplitHostPort(s)
		if splitErr != nil {
			return Service{}, fmt.Errorf("%w: %q", ErrInvalidService, s)
		}
		ip, err = netip.ParseAddr(h)
		if err != nil {
			return Service{}, fmt.Errorf("%w: %q", ErrInvalidService, s)
		}
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Service{}, fmt.Errorf("%w: port %q", ErrInvalidService, p)
		}
		return Service{addr: netip.AddrPortFrom(ip.Unmap(), uint16(port))}, nil
	}
	return Service{addr: netip.AddrPortFrom(ip.Unmap(), DefaultPort)}, nil
}

func (s Service) String() string {
	if !s.addr.IsValid() {
		return ""
	}
	return s.addr.String()
}

func (s Service) AddrPort() netip.AddrPort { return s.addr }

func (s Service) IsValid() bool { return s.addr.IsValid() }

// BanknodeEntry is one announced banknode as held by the directory.
type BanknodeEntry struct {
	OutPoint         OutPoint
	Service          Service
	CollateralPubKey []byte
	OperatorPubKey   []byte
	Signature        []byte
	SigTime          int64
	ProtocolVersion  uint32
	LastSeen         int64
}

// Announcement registers the binding of outpoint, service and operator key.
// It is signed by the collateral key.
type Announcement struct {
	OutPoint         OutPoint
	Service          Service
	Signature        []byte
	SigTime          int64
	CollateralPubKey []byte
	OperatorPubKey   []byte
	ProtocolVersion  uint32
}

// AnnouncementSignBytes returns the canonical message covered by an
// announcement signature: service || sigTime || collateral key || operator
// key || protocol version.
func AnnouncementSignBytes(service Service, sigTime int64, collateralPub, operatorPub []byte, protocolVersion uint32) []byte {
	var b strings.Builder
	b.WriteString(service.String())
	b.WriteString(strconv.FormatInt(sigTime, 10))
	b.Write(collateralPub)
	b.Write(operatorPub)
	b.WriteString(strconv.FormatUint(uint64(protocolVersion), 10))
	return []byte(b.String())
}

func (a *Announcement) SignBytes() []byte {
	return AnnouncementSignBytes(a.Service, a.SigTime, a.CollateralPubKey, a.OperatorPubKey, a.ProtocolVersion)
}

// Entry converts the announcement into a directory entry first seen at its
// signature time.
func (a *Announcement) Entry() BanknodeEntry {
	return BanknodeEntry{
		OutPoint:         a.OutPoint,
		Service:          a.Service,
		CollateralPubKey: append([]byte(nil), a.CollateralPubKey...),
		OperatorPubKey:   append([]byte(nil), a.OperatorPubKey...),
		Signature:        append([]byte(nil), a.Signature...),
		SigTime:          a.SigTime,
		ProtocolVersion:  a.ProtocolVersion,
		LastSeen:         a.SigTime,
	}
}

// Ping is the periodic liveness message, signed by the operator key. With Stop
// set it asks the network to drop the banknode.
type Ping struct {
	OutPoint  OutPoint
	Signature []byte
	SigTime   int64
	Stop      bool
}

// PingSignBytes returns the canonical ping message: service || sigTime ||
// "1" when stopping, "0" otherwise.
func PingSignBytes(service Service, sigTime int64, stop bool) []byte {
	flag := "0"
	if stop {
		flag = "1"
	}
	return []byte(service.String() + strconv.FormatInt(sigTime, 10) + flag)
}
