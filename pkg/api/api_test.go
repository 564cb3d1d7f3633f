package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/netwatch-nms/netwatch/pkg/auth"
	"github.com/netwatch-nms/netwatch/pkg/config"
	"github.com/netwatch-nms/netwatch/pkg/discovery"
	"github.com/netwatch-nms/netwatch/pkg/metrics"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/secret"
	"github.com/netwatch-nms/netwatch/pkg/store"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// fakeDiscovery implements discovery.Service for handler tests.
type fakeDiscovery struct {
	job      *model.DiscoveryJob
	err      error
	lastOwner uuid.UUID
}

func (f *fakeDiscovery) Start(ctx context.Context, owner uuid.UUID, req model.DiscoveryRequest) (*model.DiscoveryJob, error) {
	f.lastOwner = owner
	return f.job, f.err
}

func (f *fakeDiscovery) Status(ctx context.Context, owner, jobID uuid.UUID) (*model.DiscoveryJob, error) {
	f.lastOwner = owner
	return f.job, f.err
}

func (f *fakeDiscovery) Results(ctx context.Context, owner, jobID uuid.UUID) (*discovery.Results, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &discovery.Results{Job: f.job, Devices: []model.Device{}, Count: 0}, nil
}

func (f *fakeDiscovery) Cancel(ctx context.Context, owner, jobID uuid.UUID) error {
	return f.err
}

type apiFixture struct {
	server *Server
	mock   sqlmock.Sqlmock
	svc    *fakeDiscovery
	token  string
	userID uuid.UUID
}

func newAPIFixture(t *testing.T, svc *fakeDiscovery) *apiFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewStore(sqlx.NewDb(db, "sqlmock"))

	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	secrets, err := secret.New(key)
	if err != nil {
		t.Fatalf("secret.New: %v", err)
	}

	authCfg := config.Default().Auth
	authCfg.JWT.Secret = "test-secret-test-secret"
	tokens, err := auth.NewTokenManager(authCfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	authSvc := auth.NewService(st.Users, tokens)

	userID := uuid.New()
	pair, err := tokens.Issue(userID, "user")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cfg := config.Default().Server
	cfg.RateLimit.Enabled = false

	server := NewServer(cfg, svc, st, secrets, authSvc, tokens, nil, nil)
	return &apiFixture{server: server, mock: mock, svc: svc, token: pair.AccessToken, userID: userID}
}

func (fx *apiFixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+fx.token)
	}
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestDiscoveryStartCreated(t *testing.T) {
	job := &model.DiscoveryJob{ID: uuid.New(), Name: "sweep", Status: model.JobPending}
	fx := newAPIFixture(t, &fakeDiscovery{job: job})

	body := `{"name":"sweep","targetRange":"10.0.0.0/24","credentialProfileId":"` + uuid.NewString() + `"}`
	rec := fx.do(t, http.MethodPost, "/api/discovery/start", body, true)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}
	env := decodeEnvelope(t, rec)
	if env["success"] != true {
		t.Errorf("success = %v", env["success"])
	}
	if env["jobId"] != job.ID.String() {
		t.Errorf("jobId = %v, want %s", env["jobId"], job.ID)
	}
	if _, ok := env["timestamp"].(float64); !ok {
		t.Error("timestamp missing")
	}
	if fx.svc.lastOwner != fx.userID {
		t.Errorf("handler owner = %s, want %s", fx.svc.lastOwner, fx.userID)
	}
}

func TestDiscoveryStartRequiresAuth(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rec := fx.do(t, http.MethodPost, "/api/discovery/start", `{}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env["success"] != false {
		t.Errorf("success = %v, want false", env["success"])
	}
}

func TestDiscoveryStartMalformedBody(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rec := fx.do(t, http.MethodPost, "/api/discovery/start", `{"name":`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDiscoveryStatusNotFound(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{err: util.NotFoundf("discovery job gone")})

	rec := fx.do(t, http.MethodGet, "/api/discovery/status/"+uuid.NewString(), "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDiscoveryStatusBadJobID(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rec := fx.do(t, http.MethodGet, "/api/discovery/status/not-a-uuid", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDiscoveryResultsShape(t *testing.T) {
	job := &model.DiscoveryJob{ID: uuid.New(), Status: model.JobCompleted}
	fx := newAPIFixture(t, &fakeDiscovery{job: job})

	rec := fx.do(t, http.MethodGet, "/api/discovery/results/"+job.ID.String(), "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env["count"] != float64(0) {
		t.Errorf("count = %v, want 0", env["count"])
	}
	if _, ok := env["devices"]; !ok {
		t.Error("devices missing from results envelope")
	}
}

func TestDiscoveryCancel(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rec := fx.do(t, http.MethodDelete, "/api/discovery/job/"+uuid.NewString(), "", true)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestDiscoveryCancelFinishedJobNotFound(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{err: util.NotFoundf("discovery job gone")})

	rec := fx.do(t, http.MethodDelete, "/api/discovery/job/"+uuid.NewString(), "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCredentialCreateOmitsSecrets(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rows := sqlmock.NewRows([]string{
		"id", "name", "username", "password_encrypted", "private_key_encrypted",
		"port", "created_by", "created_at", "updated_at",
	}).AddRow(uuid.New(), "lab", "probe", "ciphertext", "", 22, fx.userID, time.Now(), time.Now())
	fx.mock.ExpectQuery("INSERT INTO credential_profiles").WillReturnRows(rows)

	body := `{"name":"lab","username":"probe","password":"sesame"}`
	rec := fx.do(t, http.MethodPost, "/api/credentials/", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}

	raw := rec.Body.String()
	if strings.Contains(raw, "sesame") || strings.Contains(raw, "ciphertext") ||
		strings.Contains(raw, "password") {
		t.Errorf("secret material leaked in response: %s", raw)
	}
}

func TestCredentialDeleteInUseConflicts(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	fx.mock.ExpectExec("DELETE FROM credential_profiles").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	rec := fx.do(t, http.MethodDelete, "/api/credentials/"+uuid.NewString(), "", true)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env["success"] != false {
		t.Errorf("success = %v, want false", env["success"])
	}
}

func TestHealth(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rec := fx.do(t, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env["status"] != "ok" {
		t.Errorf("status field = %v", env["status"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	fx := newAPIFixture(t, &fakeDiscovery{})

	rec := fx.do(t, http.MethodGet, "/health", "", false)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options missing")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options missing")
	}
}

func TestHTTPMetricsRecordRoutePattern(t *testing.T) {
	job := &model.DiscoveryJob{ID: uuid.New(), Status: model.JobCompleted}
	fx := newAPIFixture(t, &fakeDiscovery{job: job})
	fx.server.metrics = metrics.New()
	fx.server.router = fx.server.routes()

	rec := fx.do(t, http.MethodGet, "/api/discovery/status/"+job.ID.String(), "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	scrape := fx.do(t, http.MethodGet, "/metrics", "", false)
	if scrape.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", scrape.Code)
	}
	// Requests are labelled by chi route pattern, not by raw path: one
	// series per route, not per job id.
	if !strings.Contains(scrape.Body.String(), `route="/api/discovery/status/{jobID}"`) {
		t.Error("request counter not labelled with the route pattern")
	}
}

func TestRateLimiter(t *testing.T) {
	l := newIPRateLimiter(60, 3)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.allow("203.0.113.9") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want burst of 3", allowed)
	}
	if !l.allow("203.0.113.10") {
		t.Error("separate client should have its own bucket")
	}
}
