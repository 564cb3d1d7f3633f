package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/transport"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// fakeService records the arguments each operation was called with.
type fakeService struct {
	lastOwner uuid.UUID
	lastJob   uuid.UUID
	lastReq   model.DiscoveryRequest

	startErr error
	job      *model.DiscoveryJob
}

func (f *fakeService) Start(ctx context.Context, owner uuid.UUID, req model.DiscoveryRequest) (*model.DiscoveryJob, error) {
	f.lastOwner, f.lastReq = owner, req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.job, nil
}

func (f *fakeService) Status(ctx context.Context, owner, jobID uuid.UUID) (*model.DiscoveryJob, error) {
	f.lastOwner, f.lastJob = owner, jobID
	return f.job, nil
}

func (f *fakeService) Results(ctx context.Context, owner, jobID uuid.UUID) (*Results, error) {
	f.lastOwner, f.lastJob = owner, jobID
	return &Results{Job: f.job, Devices: []model.Device{}, Count: 0}, nil
}

func (f *fakeService) Cancel(ctx context.Context, owner, jobID uuid.UUID) error {
	f.lastOwner, f.lastJob = owner, jobID
	return nil
}

func newProxyFixture(t *testing.T, svc Service) *Proxy {
	t.Helper()
	bus := transport.NewLocalBus()
	if err := RegisterHandlers(bus, svc); err != nil {
		t.Fatalf("RegisterHandlers: %v", err)
	}
	return NewProxy(bus)
}

func TestProxyStartRoundTrip(t *testing.T) {
	want := &model.DiscoveryJob{ID: uuid.New(), Name: "sweep", Status: model.JobPending}
	svc := &fakeService{job: want}
	proxy := newProxyFixture(t, svc)

	owner := uuid.New()
	req := model.DiscoveryRequest{
		Name:                "sweep",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: uuid.NewString(),
	}
	job, err := proxy.Start(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if job.ID != want.ID || job.Status != model.JobPending {
		t.Errorf("Start() = %+v", job)
	}
	if svc.lastOwner != owner || svc.lastReq.TargetRange != req.TargetRange {
		t.Errorf("handler saw owner=%s req=%+v", svc.lastOwner, svc.lastReq)
	}
}

func TestProxyErrorKindsSurvive(t *testing.T) {
	svc := &fakeService{startErr: util.InvalidArgumentf("targetRange must be valid CIDR notation")}
	proxy := newProxyFixture(t, svc)

	_, err := proxy.Start(context.Background(), uuid.New(), model.DiscoveryRequest{})
	if !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("Start() error = %v, want ErrInvalidArgument", err)
	}
}

func TestProxyStatusAndCancel(t *testing.T) {
	want := &model.DiscoveryJob{ID: uuid.New(), Status: model.JobRunning}
	svc := &fakeService{job: want}
	proxy := newProxyFixture(t, svc)

	owner, jobID := uuid.New(), want.ID

	job, err := proxy.Status(context.Background(), owner, jobID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if job.Status != model.JobRunning {
		t.Errorf("Status() = %s", job.Status)
	}
	if svc.lastJob != jobID {
		t.Errorf("handler saw job %s, want %s", svc.lastJob, jobID)
	}

	if err := proxy.Cancel(context.Background(), owner, jobID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
}

func TestProxyResults(t *testing.T) {
	want := &model.DiscoveryJob{ID: uuid.New(), Status: model.JobCompleted}
	proxy := newProxyFixture(t, &fakeService{job: want})

	res, err := proxy.Results(context.Background(), uuid.New(), want.ID)
	if err != nil {
		t.Fatalf("Results() error: %v", err)
	}
	if res.Count != 0 || res.Job.ID != want.ID {
		t.Errorf("Results() = %+v", res)
	}
}

func TestWorkerGroupRunsTasks(t *testing.T) {
	g := NewWorkerGroup(2)
	defer g.Stop()

	var ran atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		last := i == 3
		err := g.Submit(func(ctx context.Context) {
			ran.Add(1)
			if last {
				close(done)
			}
		})
		if err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
}

func TestWorkerGroupRejectsWhenFull(t *testing.T) {
	g := NewWorkerGroup(1)
	defer g.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the queue.
	g.Submit(func(ctx context.Context) { <-block })
	var err error
	for i := 0; i < 16; i++ {
		if err = g.Submit(func(ctx context.Context) {}); err != nil {
			break
		}
	}
	if err == nil {
		t.Error("Submit() never rejected with a saturated queue")
	}
}

func TestWorkerGroupStopCancelsTasks(t *testing.T) {
	g := NewWorkerGroup(1)

	started := make(chan struct{})
	stopped := make(chan struct{})
	g.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})

	<-started
	g.Stop()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not cancel the running task")
	}
}
