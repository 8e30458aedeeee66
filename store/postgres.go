package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gatherly-backend/models"
)

// PostgresStore implements EventStore and TokenStore against pgx.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	query := `
		SELECT id, title, description, location, start_date, end_date, status, max_capacity, image_url, created_at, updated_at
		FROM events
		WHERE id = $1
	`

	var ev models.Event
	err := s.db.QueryRow(ctx, query, id).Scan(
		&ev.ID,
		&ev.Title,
		&ev.Description,
		&ev.Location,
		&ev.StartDate,
		&ev.EndDate,
		&ev.Status,
		&ev.MaxCapacity,
		&ev.ImageURL,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Error("failed to get event", zap.Error(err), zap.String("event_id", id.String()))
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, eventID uuid.UUID) ([]*models.Team, error) {
	query := `
		SELECT id, event_id, name, created_at
		FROM teams
		WHERE event_id = $1
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, eventID)
	if err != nil {
		s.logger.Error("failed to list teams", zap.Error(err), zap.String("event_id", eventID.String()))
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var tm models.Team
		if err := rows.Scan(&tm.ID, &tm.EventID, &tm.Name, &tm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, &tm)
	}
	return teams, rows.Err()
}

const tokenColumns = `
	t.id, t.code, t.event_id, t.team_id, tm.name, t.label, t.tracking_type,
	t.image_url, t.is_scanned, t.scanned_at, t.scanned_by, t.created_at
`

func (s *PostgresStore) scanToken(row pgx.Row) (*models.TrackingToken, error) {
	var tok models.TrackingToken
	err := row.Scan(
		&tok.ID,
		&tok.Code,
		&tok.EventID,
		&tok.TeamID,
		&tok.TeamName,
		&tok.Label,
		&tok.TrackingType,
		&tok.ImageURL,
		&tok.IsScanned,
		&tok.ScannedAt,
		&tok.ScannedBy,
		&tok.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan tracking token: %w", err)
	}
	return &tok, nil
}

func (s *PostgresStore) GetTokenByCode(ctx context.Context, code string) (*models.TrackingToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tracking_tokens t
		JOIN teams tm ON tm.id = t.team_id
		WHERE t.code = $1
	`
	return s.scanToken(s.db.QueryRow(ctx, query, code))
}

func (s *PostgresStore) GetToken(ctx context.Context, id uuid.UUID) (*models.TrackingToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tracking_tokens t
		JOIN teams tm ON tm.id = t.team_id
		WHERE t.id = $1
	`
	return s.scanToken(s.db.QueryRow(ctx, query, id))
}

// MarkScanned is the conditional claim of a one_time token. Two operators
// racing on the same physical code resolve here: exactly one UPDATE
// matches the unscanned row.
func (s *PostgresStore) MarkScanned(ctx context.Context, tokenID uuid.UUID, scannedBy string, at time.Time) (bool, error) {
	query := `
		UPDATE tracking_tokens
		SET is_scanned = true, scanned_at = $1, scanned_by = $2
		WHERE id = $3 AND is_scanned = false
	`

	tag, err := s.db.Exec(ctx, query, at, scannedBy, tokenID)
	if err != nil {
		s.logger.Error("failed to mark token scanned", zap.Error(err), zap.String("token_id", tokenID.String()))
		return false, fmt.Errorf("failed to mark token scanned: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TouchScanned(ctx context.Context, tokenID uuid.UUID, scannedBy string, at time.Time) error {
	query := `
		UPDATE tracking_tokens
		SET is_scanned = true, scanned_at = $1, scanned_by = $2
		WHERE id = $3
	`

	if _, err := s.db.Exec(ctx, query, at, scannedBy, tokenID); err != nil {
		s.logger.Error("failed to touch token scan", zap.Error(err), zap.String("token_id", tokenID.String()))
		return fmt.Errorf("failed to touch token scan: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendScanRecord(ctx context.Context, rec *models.ScanRecord) error {
	query := `
		INSERT INTO scan_log (id, token_id, event_id, scanned_by, scanned_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := s.db.Exec(ctx, query, rec.ID, rec.TokenID, rec.EventID, rec.ScannedBy, rec.ScannedAt); err != nil {
		s.logger.Error("failed to append scan record", zap.Error(err), zap.String("token_id", rec.TokenID.String()))
		return fmt.Errorf("failed to append scan record: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateToken(ctx context.Context, tok *models.TrackingToken) error {
	query := `
		INSERT INTO tracking_tokens (id, code, event_id, team_id, label, tracking_type, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		tok.ID,
		tok.Code,
		tok.EventID,
		tok.TeamID,
		tok.Label,
		tok.TrackingType,
		tok.ImageURL,
		tok.CreatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create tracking token", zap.Error(err), zap.String("code", tok.Code))
		return fmt.Errorf("failed to create tracking token: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamTokens(ctx context.Context, eventID, teamID uuid.UUID) ([]*models.TrackingToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tracking_tokens t
		JOIN teams tm ON tm.id = t.team_id
		WHERE t.event_id = $1 AND t.team_id = $2
		ORDER BY t.created_at
	`

	rows, err := s.db.Query(ctx, query, eventID, teamID)
	if err != nil {
		s.logger.Error("failed to list team tokens", zap.Error(err), zap.String("event_id", eventID.String()))
		return nil, fmt.Errorf("failed to list team tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.TrackingToken
	for rows.Next() {
		tok, err := s.scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) ListScans(ctx context.Context, eventID uuid.UUID) ([]*models.ScanRecord, error) {
	query := `
		SELECT id, token_id, event_id, scanned_by, scanned_at
		FROM scan_log
		WHERE event_id = $1
		ORDER BY scanned_at DESC
	`

	rows, err := s.db.Query(ctx, query, eventID)
	if err != nil {
		s.logger.Error("failed to list scans", zap.Error(err), zap.String("event_id", eventID.String()))
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	var scans []*models.ScanRecord
	for rows.Next() {
		var rec models.ScanRecord
		if err := rows.Scan(&rec.ID, &rec.TokenID, &rec.EventID, &rec.ScannedBy, &rec.ScannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scan record: %w", err)
		}
		scans = append(scans, &rec)
	}
	return scans, rows.Err()
}
