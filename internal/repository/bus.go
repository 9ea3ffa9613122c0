package repository

// MessageBus publishes encoded events to a topic. Implementations live in the
// transport packages (NATS, gRPC).
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NopBus drops every event. It is used when no bus provider is configured.
type NopBus struct{}

func (NopBus) Publish(string, []byte) error { return nil }
