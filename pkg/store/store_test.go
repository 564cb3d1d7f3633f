package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func jobRows(job model.DiscoveryJob) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "status", "target_range", "credential_profile_id",
		"results", "started_at", "completed_at", "created_by", "created_at",
	}).AddRow(job.ID, job.Name, job.Status, job.TargetRange, job.CredentialProfileID,
		[]byte(job.Results), job.StartedAt, job.CompletedAt, job.CreatedBy, job.CreatedAt)
}

func TestJobCreate(t *testing.T) {
	s, mock := newMockStore(t)

	want := model.DiscoveryJob{
		ID:                  uuid.New(),
		Name:                "lab sweep",
		Status:              model.JobPending,
		TargetRange:         "10.0.0.0/24",
		CredentialProfileID: uuid.New(),
		CreatedBy:           uuid.New(),
		CreatedAt:           time.Now(),
	}
	mock.ExpectQuery("INSERT INTO discovery_jobs").
		WithArgs(want.Name, want.TargetRange, want.CredentialProfileID, want.CreatedBy).
		WillReturnRows(jobRows(want))

	got, err := s.Jobs.Create(context.Background(), &model.DiscoveryJob{
		Name:                want.Name,
		TargetRange:         want.TargetRange,
		CredentialProfileID: want.CredentialProfileID,
		CreatedBy:           want.CreatedBy,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if got.ID != want.ID || got.Status != model.JobPending {
		t.Errorf("Create() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestJobSetCompletedRequiresRunning(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	// Job was cancelled meanwhile: the predicate matches zero rows and
	// the completion write is a no-op.
	mock.ExpectExec("UPDATE discovery_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.Jobs.SetCompleted(context.Background(), id, model.JobSummary{}.Encode())
	if err != nil {
		t.Fatalf("SetCompleted() error: %v", err)
	}
	if applied {
		t.Error("SetCompleted() applied = true, want false for non-running job")
	}
}

func TestJobSetRunning(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE discovery_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.Jobs.SetRunning(context.Background(), id)
	if err != nil {
		t.Fatalf("SetRunning() error: %v", err)
	}
	if !applied {
		t.Error("SetRunning() applied = false, want true")
	}
}

func TestJobGetForOwnerNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM discovery_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Jobs.GetForOwner(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("GetForOwner() error = %v, want ErrNotFound", err)
	}
}

func TestJobCancelAlreadyFinished(t *testing.T) {
	s, mock := newMockStore(t)
	id, owner := uuid.New(), uuid.New()

	// The CAS update misses because the job already finished; a repeat
	// cancel is indistinguishable from cancelling a missing job.
	mock.ExpectExec("UPDATE discovery_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	done := model.DiscoveryJob{ID: id, Status: model.JobCompleted, CreatedBy: owner}
	mock.ExpectQuery("SELECT (.+) FROM discovery_jobs").
		WillReturnRows(jobRows(done))

	err := s.Jobs.Cancel(context.Background(), id, owner, model.NewCancelMarker(time.Now()).Encode())
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestDeviceUpsert(t *testing.T) {
	s, mock := newMockStore(t)

	profileID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "hostname", "ip_address", "device_type", "os_info",
		"credential_profile_id", "status", "last_seen", "created_at", "updated_at",
	}).AddRow(uuid.New(), "web-01", "10.0.0.5", "linux", []byte(`{"os":"Linux"}`),
		profileID, "online", &now, now, now)

	mock.ExpectQuery("INSERT INTO devices").
		WillReturnRows(rows)

	dev, err := s.Devices.InsertDiscovered(context.Background(), &model.Device{
		Hostname:            "web-01",
		IPAddress:           "10.0.0.5",
		DeviceType:          model.TypeLinux,
		OSInfo:              types.JSONText(`{"os":"Linux"}`),
		CredentialProfileID: profileID,
	})
	if err != nil {
		t.Fatalf("InsertDiscovered() error: %v", err)
	}
	if dev.IPAddress != "10.0.0.5" || dev.Status != model.DeviceOnline {
		t.Errorf("InsertDiscovered() = %+v", dev)
	}
}

func TestDeviceDeleteNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM devices").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Devices.Delete(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestCredentialDeleteInUse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM credential_profiles").
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	err := s.Credentials.Delete(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, util.ErrInUse) {
		t.Errorf("Delete() error = %v, want ErrInUse", err)
	}
}

func TestCredentialCreateDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO credential_profiles").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := s.Credentials.Create(context.Background(), &model.CredentialProfile{Name: "lab"})
	if !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestUserCreateDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := s.Users.Create(context.Background(), &model.User{Username: "admin"})
	if !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want ErrAlreadyExists", err)
	}
}
