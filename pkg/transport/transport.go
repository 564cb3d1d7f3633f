// Package transport carries control-plane request/reply messages
// between the HTTP front end and the discovery workers. The front end
// never calls the scan engine directly: it sends a request on a named
// channel and waits for the reply, so the two sides can live in one
// process (LocalBus) or be load-balanced across several (RedisBus)
// without the handlers changing.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Channel names for the discovery control plane.
const (
	ChannelStart   = "discovery.start"
	ChannelStatus  = "discovery.status"
	ChannelResults = "discovery.results"
	ChannelCancel  = "discovery.cancel"
)

// Handler processes one request payload and returns the reply payload.
// Returned errors travel back to the requester with their kind intact.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Bus is the request/reply transport.
type Bus interface {
	// Request sends payload on channel and blocks for the reply.
	Request(ctx context.Context, channel string, payload []byte) ([]byte, error)
	// Subscribe registers a handler consuming requests on channel.
	Subscribe(channel string, h Handler) error
	Close() error
}

// Error kinds carried across process boundaries. The remote side
// flattens a handler error to a kind string; the requesting side
// rebuilds an error wrapping the matching sentinel so the API error
// mapping works identically for local and remote transports.
const (
	kindInvalidArgument = "invalid_argument"
	kindNotFound        = "not_found"
	kindAlreadyExists   = "already_exists"
	kindInUse           = "in_use"
	kindUnauthorized    = "unauthorized"
	kindInternal        = "internal"
)

func kindOf(err error) string {
	switch {
	case errors.Is(err, util.ErrInvalidArgument):
		return kindInvalidArgument
	case errors.Is(err, util.ErrNotFound):
		return kindNotFound
	case errors.Is(err, util.ErrAlreadyExists):
		return kindAlreadyExists
	case errors.Is(err, util.ErrInUse):
		return kindInUse
	case errors.Is(err, util.ErrUnauthorized):
		return kindUnauthorized
	default:
		return kindInternal
	}
}

func errFromKind(kind, msg string) error {
	var sentinel error
	switch kind {
	case kindInvalidArgument:
		sentinel = util.ErrInvalidArgument
	case kindNotFound:
		sentinel = util.ErrNotFound
	case kindAlreadyExists:
		sentinel = util.ErrAlreadyExists
	case kindInUse:
		sentinel = util.ErrInUse
	case kindUnauthorized:
		sentinel = util.ErrUnauthorized
	default:
		sentinel = util.ErrInternal
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
