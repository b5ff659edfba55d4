package p2p

// Message is the envelope for any gossip exchanged between nodes.
type Message struct {
	Type    byte
	Payload []byte
}

// Broadcaster defines any component that can broadcast messages to the network.
type Broadcaster interface {
	Broadcast(msg *Message) error
}

// MessageHandler defines any component that can process a raw message from the network.
type MessageHandler interface {
	HandleMessage(msg *Message) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(msg *Message) error

func (f HandlerFunc) HandleMessage(msg *Message) error { return f(msg) }
