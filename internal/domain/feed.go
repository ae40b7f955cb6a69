package domain

import "context"

// Feed is a subscription to one upstream publish/subscribe endpoint.
// Reconnection after connection loss is the transport's job; Subscribe only
// returns early when the subscription itself cannot be established or ends.
type Feed interface {
	// Subscribe blocks, calling deliver for every received message, until ctx
	// is done (returns nil) or the subscription fails (returns an error).
	Subscribe(ctx context.Context, deliver func([]byte)) error
	// Ping reports whether the underlying transport is currently connected.
	Ping(ctx context.Context) error
	Close() error
}

// Publisher sends messages to one upstream endpoint.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
	Close() error
}
