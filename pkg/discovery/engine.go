package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"golang.org/x/sync/semaphore"

	"github.com/netwatch-nms/netwatch/pkg/config"
	"github.com/netwatch-nms/netwatch/pkg/metrics"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/netscan"
	"github.com/netwatch-nms/netwatch/pkg/secret"
	"github.com/netwatch-nms/netwatch/pkg/store"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Storage dependencies, narrowed so tests can substitute fakes.

type jobStore interface {
	Create(ctx context.Context, job *model.DiscoveryJob) (*model.DiscoveryJob, error)
	SetRunning(ctx context.Context, id uuid.UUID) (bool, error)
	SetCompleted(ctx context.Context, id uuid.UUID, results types.JSONText) (bool, error)
	SetFailed(ctx context.Context, id uuid.UUID, results types.JSONText) (bool, error)
	Cancel(ctx context.Context, id, owner uuid.UUID, marker types.JSONText) error
	Get(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error)
	GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.DiscoveryJob, error)
}

type deviceStore interface {
	InsertDiscovered(ctx context.Context, dev *model.Device) (*model.Device, error)
	ListForProfile(ctx context.Context, profileID uuid.UUID) ([]model.Device, error)
}

type credentialStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.CredentialProfile, error)
	GetForOwner(ctx context.Context, id, owner uuid.UUID) (*model.CredentialProfile, error)
}

// Scan stage dependencies.

type livenessProber interface {
	Sweep(ctx context.Context, ips []string) []string
}

type portProber interface {
	Scan(ctx context.Context, ips []string, port int) []string
}

type factProber interface {
	Probe(ip string, creds model.Credentials) (*netscan.Facts, error)
}

// Engine owns the scan pipeline. One Engine serves all jobs; the
// WorkerGroup bounds how many pipelines run concurrently, and each
// stage checks for cancellation before starting.
type Engine struct {
	jobs    jobStore
	devices deviceStore
	creds   credentialStore
	secrets *secret.Store
	cfg     config.DiscoveryConfig
	workers *WorkerGroup
	metrics *metrics.Metrics

	pinger livenessProber
	ports  portProber
	ssh    factProber

	// In-process cancellation for jobs running on this engine. Cancel
	// requests for jobs running elsewhere take effect through the
	// status checks between stages.
	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// NewEngine wires an Engine over the store with the real netscan
// probers and starts its worker pool.
func NewEngine(st *store.Store, secrets *secret.Store, cfg config.DiscoveryConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		jobs:    st.Jobs,
		devices: st.Devices,
		creds:   st.Credentials,
		secrets: secrets,
		cfg:     cfg,
		workers: NewWorkerGroup(cfg.WorkerCount()),
		metrics: m,
		pinger:  netscan.NewPinger(cfg.LivenessTimeout, cfg.ProbeConcurrency),
		ports:   netscan.NewPortScanner(cfg.PortTimeout, cfg.ProbeConcurrency),
		ssh:     netscan.NewSSHProber(cfg.SSHTimeout),
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Stop drains the worker pool.
func (e *Engine) Stop() {
	e.workers.Stop()
}

// Start validates the request, records a pending job, and queues the
// pipeline. Validation failures never create a job row.
func (e *Engine) Start(ctx context.Context, owner uuid.UUID, req model.DiscoveryRequest) (*model.DiscoveryJob, error) {
	profileID, err := e.validate(ctx, owner, req)
	if err != nil {
		return nil, err
	}

	job, err := e.jobs.Create(ctx, &model.DiscoveryJob{
		Name:                req.Name,
		TargetRange:         req.TargetRange,
		CredentialProfileID: profileID,
		CreatedBy:           owner,
	})
	if err != nil {
		return nil, err
	}

	id := job.ID
	if err := e.workers.Submit(func(taskCtx context.Context) {
		e.runPipeline(taskCtx, id)
	}); err != nil {
		// Could not queue: the job must not sit pending forever.
		summary := model.NewFailureSummary(err.Error(), time.Now())
		if _, failErr := e.jobs.SetFailed(ctx, id, summary.Encode()); failErr != nil {
			util.WithJob(id.String()).Errorf("recording queue failure: %v", failErr)
		}
		return nil, err
	}

	util.WithJob(id.String()).WithField("range", req.TargetRange).Info("discovery job queued")
	return job, nil
}

func (e *Engine) validate(ctx context.Context, owner uuid.UUID, req model.DiscoveryRequest) (uuid.UUID, error) {
	var b util.ValidationBuilder
	b.Add(req.Name != "", "name is required")
	b.Add(netscan.ValidCIDR(req.TargetRange), "targetRange must be valid CIDR notation")

	if netscan.ValidCIDR(req.TargetRange) && !e.cfg.AllowLargeRanges {
		if n, err := netscan.PrefixLen(req.TargetRange); err == nil && n < e.cfg.MinPrefixLen {
			b.AddErrorf("targetRange wider than /%d is not allowed", e.cfg.MinPrefixLen)
		}
	}

	profileID, err := uuid.Parse(req.CredentialProfileID)
	if err != nil {
		b.AddError("credentialProfileId must be a UUID")
	}
	if err := b.Build(); err != nil {
		return uuid.Nil, err
	}

	// Ownership check up front: a foreign profile reads as not-found.
	if _, err := e.creds.GetForOwner(ctx, profileID, owner); err != nil {
		return uuid.Nil, err
	}
	return profileID, nil
}

// Status returns the job record, owner-scoped.
func (e *Engine) Status(ctx context.Context, owner, jobID uuid.UUID) (*model.DiscoveryJob, error) {
	return e.jobs.GetForOwner(ctx, jobID, owner)
}

// Results returns the job plus every device under its profile. The
// device list spans earlier scans of the same profile: the inventory
// is cumulative, keyed by (profile, ip).
func (e *Engine) Results(ctx context.Context, owner, jobID uuid.UUID) (*Results, error) {
	job, err := e.jobs.GetForOwner(ctx, jobID, owner)
	if err != nil {
		return nil, err
	}
	devices, err := e.devices.ListForProfile(ctx, job.CredentialProfileID)
	if err != nil {
		return nil, err
	}
	return &Results{Job: job, Devices: devices, Count: len(devices)}, nil
}

// Cancel writes the cancellation marker and aborts the pipeline if it
// is running on this engine.
func (e *Engine) Cancel(ctx context.Context, owner, jobID uuid.UUID) error {
	if err := e.jobs.Cancel(ctx, jobID, owner, model.NewCancelMarker(time.Now()).Encode()); err != nil {
		return err
	}

	e.mu.Lock()
	if cancel, ok := e.running[jobID]; ok {
		cancel()
	}
	e.mu.Unlock()

	e.metrics.JobFinished("cancelled")
	util.WithJob(jobID.String()).Info("discovery job cancelled")
	return nil
}

// runPipeline executes one scan end to end. Per-host failures are
// swallowed; only orchestration failures (credentials, storage) fail
// the job.
func (e *Engine) runPipeline(ctx context.Context, jobID uuid.UUID) {
	log := util.WithJob(jobID.String())

	ok, err := e.jobs.SetRunning(ctx, jobID)
	if err != nil {
		log.Errorf("marking job running: %v", err)
		return
	}
	if !ok {
		// Cancelled while queued.
		log.Debug("job no longer pending, skipping")
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.running[jobID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, jobID)
		e.mu.Unlock()
	}()

	job, err := e.jobs.Get(jobCtx, jobID)
	if err != nil {
		e.fail(jobID, err)
		return
	}

	creds, err := e.resolveCredentials(jobCtx, job.CredentialProfileID)
	if err != nil {
		e.fail(jobID, err)
		return
	}

	ips, err := netscan.ExpandCIDR(job.TargetRange)
	if err != nil {
		e.fail(jobID, err)
		return
	}
	log.WithField("hosts", len(ips)).Info("scan started")

	// Stage 1: liveness sweep.
	stageStart := time.Now()
	alive := e.pinger.Sweep(jobCtx, ips)
	e.metrics.ObserveStage("liveness", time.Since(stageStart))
	if e.cancelled(jobCtx, jobID) {
		return
	}

	// Stage 2: SSH port reachability.
	stageStart = time.Now()
	reachable := e.ports.Scan(jobCtx, alive, creds.Port)
	e.metrics.ObserveStage("port", time.Since(stageStart))
	if e.cancelled(jobCtx, jobID) {
		return
	}

	// Stage 3: authenticated probe and fact extraction.
	stageStart = time.Now()
	discovered := e.probeAll(jobCtx, reachable, job.CredentialProfileID, creds)
	e.metrics.ObserveStage("probe", time.Since(stageStart))
	if e.cancelled(jobCtx, jobID) {
		return
	}

	summary := model.JobSummary{
		TotalIPsScanned:   len(ips),
		DevicesDiscovered: len(discovered),
		Devices:           discovered,
	}
	applied, err := e.jobs.SetCompleted(context.WithoutCancel(jobCtx), jobID, summary.Encode())
	if err != nil {
		log.Errorf("writing completion: %v", err)
		return
	}
	if !applied {
		// Lost the race with a cancel; the marker stands.
		log.Debug("completion skipped, job already terminal")
		return
	}

	e.metrics.JobFinished(model.JobCompleted.String())
	e.metrics.DevicesFound(len(discovered))
	log.WithFields(map[string]interface{}{
		"scanned":    len(ips),
		"discovered": len(discovered),
	}).Info("scan completed")
}

// resolveCredentials loads the job's profile and decrypts its secret
// material. Decryption failure is an orchestration error: the key is
// wrong or the row is corrupt, and no host can be probed.
func (e *Engine) resolveCredentials(ctx context.Context, profileID uuid.UUID) (model.Credentials, error) {
	profile, err := e.creds.Get(ctx, profileID)
	if err != nil {
		return model.Credentials{}, err
	}

	password, err := e.secrets.Decrypt(profile.PasswordEncrypted)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("profile %s password: %w", profileID, err)
	}
	privateKey, err := e.secrets.Decrypt(profile.PrivateKeyEncrypted)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("profile %s private key: %w", profileID, err)
	}

	port := profile.Port
	if port == 0 {
		port = 22
	}
	return model.Credentials{
		Username:   profile.Username,
		Password:   password,
		PrivateKey: privateKey,
		Port:       port,
	}, nil
}

// probeAll runs the SSH stage over the reachable hosts with bounded
// concurrency and upserts a device row per successful probe. Returns
// the hostnames of the devices it recorded; the summary lists devices
// by name.
func (e *Engine) probeAll(ctx context.Context, ips []string, profileID uuid.UUID, creds model.Credentials) []string {
	concurrency := int64(e.cfg.ProbeConcurrency)
	if concurrency <= 0 {
		concurrency = 64
	}
	sem := semaphore.NewWeighted(concurrency)
	names := make([]string, len(ips))
	found := make([]bool, len(ips))
	var wg sync.WaitGroup

	for i, ip := range ips {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			defer sem.Release(1)
			names[i], found[i] = e.probeOne(ctx, ip, profileID, creds)
		}(i, ip)
	}
	wg.Wait()

	out := make([]string, 0, len(ips))
	for i, ok := range found {
		if ok {
			out = append(out, names[i])
		}
	}
	return out
}

func (e *Engine) probeOne(ctx context.Context, ip string, profileID uuid.UUID, creds model.Credentials) (string, bool) {
	facts, err := e.ssh.Probe(ip, creds)
	if err != nil {
		util.WithHost(ip).Debugf("probe failed: %v", err)
		return "", false
	}

	dev := &model.Device{
		Hostname:            facts.Hostname,
		IPAddress:           ip,
		DeviceType:          netscan.DeriveDeviceType(facts.OS),
		OSInfo:              types.JSONText(facts.JSON()),
		CredentialProfileID: profileID,
	}
	if _, err := e.devices.InsertDiscovered(context.WithoutCancel(ctx), dev); err != nil {
		util.WithHost(ip).Errorf("recording device: %v", err)
		return "", false
	}
	return facts.Hostname, true
}

// cancelled reports whether the pipeline should stop: either the
// in-process context was cancelled or another process flipped the job
// out of running.
func (e *Engine) cancelled(ctx context.Context, jobID uuid.UUID) bool {
	if ctx.Err() != nil {
		return true
	}
	job, err := e.jobs.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return false
	}
	return job.Status != model.JobRunning
}

// fail records an orchestration failure on the job.
func (e *Engine) fail(jobID uuid.UUID, cause error) {
	summary := model.NewFailureSummary(cause.Error(), time.Now())
	applied, err := e.jobs.SetFailed(context.Background(), jobID, summary.Encode())
	if err != nil {
		util.WithJob(jobID.String()).Errorf("recording failure: %v", err)
		return
	}
	if applied {
		e.metrics.JobFinished(model.JobFailed.String())
	}
	util.WithJob(jobID.String()).Warnf("discovery job failed: %v", cause)
}
