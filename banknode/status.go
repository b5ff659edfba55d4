package banknode

// Status is the local node's banknode capability.
type Status uint32

const (
	SyncInProcess Status = iota
	NotProcessed
	NotCapable
	InputTooNew
	IsCapable
	RemotelyEnabled
	Stopped
)

var statusNames = [...]string{
	SyncInProcess:   "SYNC_IN_PROCESS",
	NotProcessed:    "NOT_PROCESSED",
	NotCapable:      "NOT_CAPABLE",
	InputTooNew:     "INPUT_TOO_NEW",
	IsCapable:       "IS_CAPABLE",
	RemotelyEnabled: "REMOTELY_ENABLED",
	Stopped:         "STOPPED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// Running reports whether the node has been announced (locally or from a
// cold wallet) and should be sending pings.
func (s Status) Running() bool {
	return s == IsCapable || s == RemotelyEnabled
}

// AllStatuses lists every status in declaration order.
func AllStatuses() []Status {
	return []Status{SyncInProcess, NotProcessed, NotCapable, InputTooNew, IsCapable, RemotelyEnabled, Stopped}
}
