// Package discovery runs the staged network scan pipeline: liveness
// sweep, TCP port check, authenticated SSH probe, device fact
// extraction. The API front end talks to a Service; the Engine is the
// real implementation and the Proxy forwards over the control-plane
// transport so front end and workers can be separated.
package discovery

import (
	"context"

	"github.com/google/uuid"

	"github.com/netwatch-nms/netwatch/pkg/model"
)

// Results bundles what the results operation returns: the finished
// job's summary plus the device inventory discovered under the job's
// credential profile.
type Results struct {
	Job     *model.DiscoveryJob `json:"job"`
	Devices []model.Device      `json:"devices"`
	Count   int                 `json:"count"`
}

// Service is the discovery control-plane surface.
type Service interface {
	// Start validates the request, records a pending job, and queues
	// the scan. It returns before any scanning happens.
	Start(ctx context.Context, owner uuid.UUID, req model.DiscoveryRequest) (*model.DiscoveryJob, error)

	// Status returns the job's current lifecycle record.
	Status(ctx context.Context, owner, jobID uuid.UUID) (*model.DiscoveryJob, error)

	// Results returns the job plus the devices under its profile.
	Results(ctx context.Context, owner, jobID uuid.UUID) (*Results, error)

	// Cancel marks a non-terminal job failed with a cancellation
	// marker and stops its pipeline at the next stage boundary.
	Cancel(ctx context.Context, owner, jobID uuid.UUID) error
}

// Wire payloads for the transport channels. Owner travels with every
// request because authorization happens where the data lives.

type startPayload struct {
	Owner   uuid.UUID              `json:"owner"`
	Request model.DiscoveryRequest `json:"request"`
}

type jobRefPayload struct {
	Owner uuid.UUID `json:"owner"`
	JobID uuid.UUID `json:"jobId"`
}
