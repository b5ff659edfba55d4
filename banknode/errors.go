package banknode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why the controller is not capable or why an operation
// was refused.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindChainSync
	KindAddressDetection
	KindConnectivity
	KindWalletLocked
	KindNoCollateral
	KindCollateralKey
	KindInputTooNew
	KindOperatorKey
	KindSigning
	KindVerification
	KindNotInDirectory
	KindDirectory
	KindNotRunning
	KindNoCollateralHeld
)

var kindNames = [...]string{
	KindNone:             "none",
	KindChainSync:        "chain_sync",
	KindAddressDetection: "address_detection",
	KindConnectivity:     "connectivity",
	KindWalletLocked:     "wallet_locked",
	KindNoCollateral:     "no_collateral",
	KindCollateralKey:    "collateral_key",
	KindInputTooNew:      "input_too_new",
	KindOperatorKey:      "operator_key",
	KindSigning:          "signing",
	KindVerification:     "verification",
	KindNotInDirectory:   "not_in_directory",
	KindDirectory:        "directory",
	KindNotRunning:       "not_running",
	KindNoCollateralHeld: "no_collateral_held",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Sentinels matching each kind through errors.Is.
var (
	ErrChainSync        = errors.New("banknode: chain sync in progress")
	ErrAddressDetection = errors.New("banknode: cannot detect external address")
	ErrConnectivity     = errors.New("banknode: service not reachable")
	ErrWalletLocked     = errors.New("banknode: wallet is locked")
	ErrNoCollateral     = errors.New("banknode: no suitable collateral")
	ErrCollateralKey    = errors.New("banknode: collateral key unavailable")
	ErrInputTooNew      = errors.New("banknode: collateral input too new")
	ErrOperatorKey      = errors.New("banknode: operator key unavailable")
	ErrSigning          = errors.New("banknode: sign message failed")
	ErrVerification     = errors.New("banknode: verify message failed")
	ErrNotInDirectory   = errors.New("banknode: directory has no entry for our banknode")
	ErrDirectory        = errors.New("banknode: directory operation failed")
	ErrNotRunning       = errors.New("banknode: not in a running status")
	ErrNoCollateralHeld = errors.New("banknode: collateral output is not held")
)

var kindSentinels = map[ErrorKind]error{
	KindChainSync:        ErrChainSync,
	KindAddressDetection: ErrAddressDetection,
	KindConnectivity:     ErrConnectivity,
	KindWalletLocked:     ErrWalletLocked,
	KindNoCollateral:     ErrNoCollateral,
	KindCollateralKey:    ErrCollateralKey,
	KindInputTooNew:      ErrInputTooNew,
	KindOperatorKey:      ErrOperatorKey,
	KindSigning:          ErrSigning,
	KindVerification:     ErrVerification,
	KindNotInDirectory:   ErrNotInDirectory,
	KindDirectory:        ErrDirectory,
	KindNotRunning:       ErrNotRunning,
	KindNoCollateralHeld: ErrNoCollateralHeld,
}

// Error is a classified failure with an optional human readable detail.
type Error struct {
	Kind   ErrorKind
	Detail string
	cause  error
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	e := newError(kind, format, args...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	sentinel := kindSentinels[e.Kind]
	msg := "banknode: " + e.Kind.String()
	if sentinel != nil {
		msg = sentinel.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && kindSentinels[e.Kind] == target
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of err, KindNone when err is nil or unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
