package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/netwatch-nms/netwatch/pkg/config"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/netscan"
	"github.com/netwatch-nms/netwatch/pkg/secret"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// In-memory store fakes.

type fakeJobs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.DiscoveryJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{rows: make(map[uuid.UUID]*model.DiscoveryJob)}
}

func (f *fakeJobs) Create(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *job
	stored.ID = uuid.New()
	stored.Status = model.JobPending
	stored.CreatedAt = time.Now()
	f.rows[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeJobs) SetRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok || j.Status != model.JobPending {
		return false, nil
	}
	j.Status = model.JobRunning
	now := time.Now()
	j.StartedAt = &now
	return true, nil
}

func (f *fakeJobs) SetCompleted(ctx context.Context, id uuid.UUID, results types.JSONText) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok || j.Status != model.JobRunning {
		return false, nil
	}
	j.Status = model.JobCompleted
	j.Results = results
	now := time.Now()
	j.CompletedAt = &now
	return true, nil
}

func (f *fakeJobs) SetFailed(ctx context.Context, id uuid.UUID, results types.JSONText) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok || j.Status.IsTerminal() {
		return false, nil
	}
	j.Status = model.JobFailed
	j.Results = results
	now := time.Now()
	j.CompletedAt = &now
	return true, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, id, owner uuid.UUID, marker types.JSONText) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok || j.CreatedBy != owner {
		return util.NotFoundf("discovery job %s", id)
	}
	if j.Status.IsTerminal() {
		return util.NotFoundf("discovery job %s", id)
	}
	j.Status = model.JobFailed
	j.Results = marker
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.rows[id]
	if !ok {
		return nil, util.NotFoundf("discovery job %s", id)
	}
	out := *j
	return &out, nil
}

func (f *fakeJobs) GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.DiscoveryJob, error) {
	j, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.CreatedBy != owner {
		return nil, util.NotFoundf("discovery job %s", id)
	}
	return j, nil
}

type fakeDevices struct {
	mu   sync.Mutex
	rows []model.Device
}

func (f *fakeDevices) InsertDiscovered(ctx context.Context, dev *model.Device) (*model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].CredentialProfileID == dev.CredentialProfileID && f.rows[i].IPAddress == dev.IPAddress {
			f.rows[i].Hostname = dev.Hostname
			f.rows[i].OSInfo = dev.OSInfo
			out := f.rows[i]
			return &out, nil
		}
	}
	stored := *dev
	stored.ID = uuid.New()
	stored.Status = model.DeviceOnline
	f.rows = append(f.rows, stored)
	out := stored
	return &out, nil
}

func (f *fakeDevices) ListForProfile(ctx context.Context, profileID uuid.UUID) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Device{}
	for _, d := range f.rows {
		if d.CredentialProfileID == profileID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeCreds struct {
	rows map[uuid.UUID]*model.CredentialProfile
}

func (f *fakeCreds) Get(ctx context.Context, id uuid.UUID) (*model.CredentialProfile, error) {
	p, ok := f.rows[id]
	if !ok {
		return nil, util.NotFoundf("credential profile %s", id)
	}
	out := *p
	return &out, nil
}

func (f *fakeCreds) GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.CredentialProfile, error) {
	p, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.CreatedBy != owner {
		return nil, util.NotFoundf("credential profile %s", id)
	}
	return p, nil
}

// Stage stubs.

type stubSweep struct {
	alive []string
	gate  chan struct{} // when set, Sweep blocks until closed
}

func (s *stubSweep) Sweep(ctx context.Context, ips []string) []string {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil
		}
	}
	if s.alive != nil {
		return s.alive
	}
	return ips
}

type stubPorts struct{ open []string }

func (s *stubPorts) Scan(ctx context.Context, ips []string, port int) []string {
	if s.open != nil {
		return s.open
	}
	return ips
}

type stubSSH struct {
	facts map[string]*netscan.Facts
}

func (s *stubSSH) Probe(ip string, creds model.Credentials) (*netscan.Facts, error) {
	f, ok := s.facts[ip]
	if !ok {
		return nil, errors.New("auth failed")
	}
	return f, nil
}

// Harness.

type engineFixture struct {
	engine  *Engine
	jobs    *fakeJobs
	devices *fakeDevices
	owner   uuid.UUID
	profile uuid.UUID
}

func newFixture(t *testing.T, ssh factProber, sweep livenessProber) *engineFixture {
	t.Helper()

	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	secrets, err := secret.New(key)
	if err != nil {
		t.Fatalf("secret.New: %v", err)
	}

	owner := uuid.New()
	profileID := uuid.New()
	password, err := secrets.Encrypt("sesame")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	creds := &fakeCreds{rows: map[uuid.UUID]*model.CredentialProfile{
		profileID: {
			ID:                profileID,
			Name:              "lab",
			Username:          "probe",
			PasswordEncrypted: password,
			Port:              22,
			CreatedBy:         owner,
		},
	}}

	cfg := config.Default().Discovery
	if sweep == nil {
		sweep = &stubSweep{}
	}
	if ssh == nil {
		ssh = &stubSSH{}
	}

	jobs := newFakeJobs()
	devices := &fakeDevices{}
	e := &Engine{
		jobs:    jobs,
		devices: devices,
		creds:   creds,
		secrets: secrets,
		cfg:     cfg,
		workers: NewWorkerGroup(2),
		pinger:  sweep,
		ports:   &stubPorts{},
		ssh:     ssh,
		running: make(map[uuid.UUID]context.CancelFunc),
	}
	t.Cleanup(e.Stop)

	return &engineFixture{engine: e, jobs: jobs, devices: devices, owner: owner, profile: profileID}
}

func waitForStatus(t *testing.T, fx *engineFixture, id uuid.UUID, want model.JobStatus) *model.DiscoveryJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := fx.jobs.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestEngineStartRejectsBadCIDR(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "bad",
		TargetRange:         "10.0.0.0/33",
		CredentialProfileID: fx.profile.String(),
	})
	if !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("Start() error = %v, want ErrInvalidArgument", err)
	}
	if len(fx.jobs.rows) != 0 {
		t.Error("invalid request created a job row")
	}
}

func TestEngineStartRejectsWideRange(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "whole internet",
		TargetRange:         "10.0.0.0/8",
		CredentialProfileID: fx.profile.String(),
	})
	if !errors.Is(err, util.ErrInvalidArgument) {
		t.Errorf("Start() error = %v, want ErrInvalidArgument", err)
	}
}

func TestEngineStartForeignProfile(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.engine.Start(context.Background(), uuid.New(), model.DiscoveryRequest{
		Name:                "sweep",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: fx.profile.String(),
	})
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Start() with foreign profile error = %v, want ErrNotFound", err)
	}
}

func TestEnginePipelineCompletes(t *testing.T) {
	ssh := &stubSSH{facts: map[string]*netscan.Facts{
		"10.0.0.1": {Hostname: "web-01", OS: "Linux", DeviceType: "linux"},
	}}
	fx := newFixture(t, ssh, nil)

	job, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "lab sweep",
		TargetRange:         "10.0.0.0/30", // hosts .1 and .2
		CredentialProfileID: fx.profile.String(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if job.Status != model.JobPending {
		t.Errorf("Start() status = %s, want pending", job.Status)
	}

	done := waitForStatus(t, fx, job.ID, model.JobCompleted)

	var summary model.JobSummary
	if err := json.Unmarshal(done.Results, &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.TotalIPsScanned != 2 {
		t.Errorf("TotalIPsScanned = %d, want 2", summary.TotalIPsScanned)
	}
	if summary.DevicesDiscovered != 1 || len(summary.Devices) != 1 || summary.Devices[0] != "web-01" {
		t.Errorf("summary = %+v", summary)
	}

	devices, _ := fx.devices.ListForProfile(context.Background(), fx.profile)
	if len(devices) != 1 || devices[0].Hostname != "web-01" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestEnginePipelineNoSurvivorsStillCompletes(t *testing.T) {
	// Every probe fails: the job succeeds with an empty device list.
	fx := newFixture(t, &stubSSH{}, nil)

	job, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "empty sweep",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: fx.profile.String(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := waitForStatus(t, fx, job.ID, model.JobCompleted)
	var summary model.JobSummary
	if err := json.Unmarshal(done.Results, &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.DevicesDiscovered != 0 || summary.TotalIPsScanned != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestEnginePipelineFailsOnCorruptSecret(t *testing.T) {
	fx := newFixture(t, nil, nil)

	// Corrupt the stored ciphertext after fixture setup.
	creds := fx.engine.creds.(*fakeCreds)
	creds.rows[fx.profile].PasswordEncrypted = "not-ciphertext"

	job, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "doomed",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: fx.profile.String(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := waitForStatus(t, fx, job.ID, model.JobFailed)
	var failure model.FailureSummary
	if err := json.Unmarshal(done.Results, &failure); err != nil {
		t.Fatalf("decoding failure summary: %v", err)
	}
	if failure.Error == "" || failure.FailedAt == "" {
		t.Errorf("failure summary = %+v", failure)
	}
}

func TestEngineCancelRunningJob(t *testing.T) {
	gate := make(chan struct{})
	fx := newFixture(t, nil, &stubSweep{gate: gate})

	job, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "slow sweep",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: fx.profile.String(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitForStatus(t, fx, job.ID, model.JobRunning)

	if err := fx.engine.Cancel(context.Background(), fx.owner, job.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	close(gate)

	done := waitForStatus(t, fx, job.ID, model.JobFailed)
	var marker model.CancelMarker
	if err := json.Unmarshal(done.Results, &marker); err != nil {
		t.Fatalf("decoding cancel marker: %v", err)
	}
	if !marker.Cancelled || marker.CancelledAt == "" {
		t.Errorf("marker = %+v", marker)
	}

	// The late pipeline must not overwrite the marker.
	time.Sleep(100 * time.Millisecond)
	final, _ := fx.jobs.Get(context.Background(), job.ID)
	if final.Status != model.JobFailed {
		t.Errorf("final status = %s, want failed", final.Status)
	}
	if !marker.Cancelled {
		t.Error("cancel marker lost")
	}
}

func TestEngineCancelTerminalJob(t *testing.T) {
	ssh := &stubSSH{facts: map[string]*netscan.Facts{}}
	fx := newFixture(t, ssh, nil)

	job, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "quick",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: fx.profile.String(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitForStatus(t, fx, job.ID, model.JobCompleted)

	err = fx.engine.Cancel(context.Background(), fx.owner, job.ID)
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Cancel() of finished job error = %v, want ErrNotFound", err)
	}
}

func TestEngineStatusAndResultsOwnership(t *testing.T) {
	ssh := &stubSSH{facts: map[string]*netscan.Facts{
		"10.0.0.1": {Hostname: "web-01", OS: "Linux", DeviceType: "linux"},
	}}
	fx := newFixture(t, ssh, nil)

	job, err := fx.engine.Start(context.Background(), fx.owner, model.DiscoveryRequest{
		Name:                "sweep",
		TargetRange:         "10.0.0.0/30",
		CredentialProfileID: fx.profile.String(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitForStatus(t, fx, job.ID, model.JobCompleted)

	if _, err := fx.engine.Status(context.Background(), uuid.New(), job.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Status() for stranger = %v, want ErrNotFound", err)
	}

	res, err := fx.engine.Results(context.Background(), fx.owner, job.ID)
	if err != nil {
		t.Fatalf("Results() error: %v", err)
	}
	if res.Count != 1 || len(res.Devices) != 1 {
		t.Errorf("Results() = %+v", res)
	}
	if res.Job.ID != job.ID {
		t.Errorf("Results() job = %s, want %s", res.Job.ID, job.ID)
	}
}
