// Package store is the persistence layer. Interfaces are implemented by
// Postgres in production and by in-memory fakes in tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"gatherly-backend/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListTeams(ctx context.Context, eventID uuid.UUID) ([]*models.Team, error)
}

type TokenStore interface {
	GetTokenByCode(ctx context.Context, code string) (*models.TrackingToken, error)
	GetToken(ctx context.Context, id uuid.UUID) (*models.TrackingToken, error)

	// MarkScanned performs the single conditional write that makes
	// one_time verification race-safe: the scanned fields are set only if
	// the token is still unscanned. Reports whether the row was claimed.
	MarkScanned(ctx context.Context, tokenID uuid.UUID, scannedBy string, at time.Time) (bool, error)

	// TouchScanned stamps the latest scan on a repeatable token. The
	// (is_scanned, scanned_at) pair only ever moves forward.
	TouchScanned(ctx context.Context, tokenID uuid.UUID, scannedBy string, at time.Time) error

	AppendScanRecord(ctx context.Context, rec *models.ScanRecord) error

	CreateToken(ctx context.Context, tok *models.TrackingToken) error
	ListTeamTokens(ctx context.Context, eventID, teamID uuid.UUID) ([]*models.TrackingToken, error)
	ListScans(ctx context.Context, eventID uuid.UUID) ([]*models.ScanRecord, error)
}
