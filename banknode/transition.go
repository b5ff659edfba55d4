package banknode

import "bcrnode/core/types"

// Action is the side effect a tick has to perform after a transition.
type Action uint8

const (
	ActionNone Action = iota
	ActionRegister
	ActionPing
)

func (a Action) String() string {
	switch a {
	case ActionRegister:
		return "register"
	case ActionPing:
		return "ping"
	default:
		return "none"
	}
}

// TickInputs are the observations a tick is evaluated against. The
// capability checks are gathered in field order and gathering stops at the
// first failing one, so Next must read them in the same order.
type TickInputs struct {
	InitialSync bool

	Service          types.Service
	AddressResolved  bool
	Reachable        bool
	WalletUnlocked   bool
	CollateralFound  bool
	Confirmations    int64
	MinConfirmations int64
	CollateralKeyOK  bool
}

// Transition is the outcome of evaluating one tick.
type Transition struct {
	Status Status
	Action Action
	Err    *Error
}

// Normalize applies the per-tick reset: a node that was not capable for a
// transient reason starts from NotProcessed again.
func Normalize(s Status) Status {
	switch s {
	case InputTooNew, NotCapable, SyncInProcess:
		return NotProcessed
	default:
		return s
	}
}

// NeedsCapabilityCheck reports whether a tick starting in s gathers the
// capability inputs of TickInputs.
func NeedsCapabilityCheck(s Status) bool {
	return Normalize(s) == NotProcessed
}

// Next evaluates one tick. It performs no I/O.
func Next(current Status, in TickInputs) Transition {
	if in.InitialSync {
		return Transition{
			Status: SyncInProcess,
			Err:    newError(KindChainSync, "must wait until sync is complete to start banknode"),
		}
	}

	status := Normalize(current)
	switch {
	case status == NotProcessed:
		return evaluateCapability(in)
	case status.Running():
		return Transition{Status: status, Action: ActionPing}
	default:
		return Transition{Status: status}
	}
}

func evaluateCapability(in TickInputs) Transition {
	notCapable := func(err *Error) Transition {
		return Transition{Status: NotCapable, Err: err}
	}
	switch {
	case !in.AddressResolved:
		return notCapable(newError(KindAddressDetection, "use the banknode address configuration option"))
	case !in.Reachable:
		return notCapable(newError(KindConnectivity, "could not connect to %s", in.Service))
	case !in.WalletUnlocked:
		return notCapable(newError(KindWalletLocked, ""))
	case !in.CollateralFound:
		return Transition{Status: NotProcessed, Err: newError(KindNoCollateral, "could not find suitable coins")}
	case in.Confirmations < in.MinConfirmations:
		return Transition{
			Status: InputTooNew,
			Err: newError(KindInputTooNew, "input must have at least %d confirmations - %d confirmations",
				in.MinConfirmations, in.Confirmations),
		}
	case !in.CollateralKeyOK:
		return notCapable(newError(KindCollateralKey, "collateral output is not spendable by a wallet key"))
	default:
		return Transition{Status: IsCapable, Action: ActionRegister}
	}
}
