package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// LocalBus routes requests to in-process handlers. It is the default
// transport for single-process deployments; handler errors pass
// through unflattened.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalBus returns an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string]Handler)}
}

// Subscribe registers the handler for channel, replacing any previous
// one.
func (b *LocalBus) Subscribe(channel string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = h
	return nil
}

// Request invokes the channel's handler synchronously.
func (b *LocalBus) Request(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	b.mu.RLock()
	h, ok := b.handlers[channel]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handler on channel %q", util.ErrTransportFailure, channel)
	}
	return h(ctx, payload)
}

// Close is a no-op for the in-process bus.
func (b *LocalBus) Close() error { return nil }
