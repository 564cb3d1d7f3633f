package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/transport"
)

// Proxy implements Service by forwarding each operation over the
// control-plane bus. The HTTP front end only ever sees this type, so
// whether the engine runs in-process or behind Redis is a deployment
// choice, not a code path.
type Proxy struct {
	bus transport.Bus
}

// NewProxy returns a Service speaking through bus.
func NewProxy(bus transport.Bus) *Proxy {
	return &Proxy{bus: bus}
}

func (p *Proxy) Start(ctx context.Context, owner uuid.UUID, req model.DiscoveryRequest) (*model.DiscoveryJob, error) {
	var job model.DiscoveryJob
	err := p.call(ctx, transport.ChannelStart, startPayload{Owner: owner, Request: req}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *Proxy) Status(ctx context.Context, owner, jobID uuid.UUID) (*model.DiscoveryJob, error) {
	var job model.DiscoveryJob
	err := p.call(ctx, transport.ChannelStatus, jobRefPayload{Owner: owner, JobID: jobID}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *Proxy) Results(ctx context.Context, owner, jobID uuid.UUID) (*Results, error) {
	var res Results
	err := p.call(ctx, transport.ChannelResults, jobRefPayload{Owner: owner, JobID: jobID}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *Proxy) Cancel(ctx context.Context, owner, jobID uuid.UUID) error {
	return p.call(ctx, transport.ChannelCancel, jobRefPayload{Owner: owner, JobID: jobID}, nil)
}

func (p *Proxy) call(ctx context.Context, channel string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", channel, err)
	}
	reply, err := p.bus.Request(ctx, channel, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", channel, err)
	}
	return nil
}

// RegisterHandlers subscribes the engine's operations on the bus.
// Called on the worker side; with a LocalBus that is the same process
// as the front end.
func RegisterHandlers(bus transport.Bus, svc Service) error {
	if err := bus.Subscribe(transport.ChannelStart, func(ctx context.Context, payload []byte) ([]byte, error) {
		var req startPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding start request: %w", err)
		}
		job, err := svc.Start(ctx, req.Owner, req.Request)
		if err != nil {
			return nil, err
		}
		return json.Marshal(job)
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(transport.ChannelStatus, func(ctx context.Context, payload []byte) ([]byte, error) {
		var req jobRefPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding status request: %w", err)
		}
		job, err := svc.Status(ctx, req.Owner, req.JobID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(job)
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(transport.ChannelResults, func(ctx context.Context, payload []byte) ([]byte, error) {
		var req jobRefPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding results request: %w", err)
		}
		res, err := svc.Results(ctx, req.Owner, req.JobID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}); err != nil {
		return err
	}

	return bus.Subscribe(transport.ChannelCancel, func(ctx context.Context, payload []byte) ([]byte, error) {
		var req jobRefPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding cancel request: %w", err)
		}
		if err := svc.Cancel(ctx, req.Owner, req.JobID); err != nil {
			return nil, err
		}
		return []byte(`{}`), nil
	})
}
