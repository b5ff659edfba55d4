package p2p

import (
	"fmt"

	"bcrnode/core/types"
)

// Banknode gossip message types.
const (
	MsgTypeBanknodeAnnounce byte = 0x20
	MsgTypeBanknodePing     byte = 0x21
)

// MessageTypeName returns a stable label for metrics and logs.
func MessageTypeName(t byte) string {
	switch t {
	case MsgTypeBanknodeAnnounce:
		return "bn_announce"
	case MsgTypeBanknodePing:
		return "bn_ping"
	default:
		return fmt.Sprintf("0x%02x", t)
	}
}

// --- Message Creation Helpers ---

func NewAnnounceMessage(ann *types.Announcement) (*Message, error) {
	payload, err := types.EncodeAnnouncement(ann)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MsgTypeBanknodeAnnounce, Payload: payload}, nil
}

func NewBanknodePingMessage(ping *types.Ping) (*Message, error) {
	payload, err := types.EncodePing(ping)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MsgTypeBanknodePing, Payload: payload}, nil
}
