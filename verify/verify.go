// Package verify is the sole authority for scan state transitions. Every
// submitted code, optical or manual, funnels through Verifier.Verify.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatherly-backend/models"
	"gatherly-backend/qrtoken"
	"gatherly-backend/store"
)

// Failure messages are part of the operator contract: "invalid code" must
// be distinguishable from "valid but already used".
const (
	MsgNotFound       = "QR code not found or invalid"
	MsgWrongEvent     = "QR code belongs to a different event"
	MsgAlreadyScanned = "QR code already scanned"
	MsgVerified       = "QR code verified successfully"
)

// Notifier receives successful scans after they are durable. Publishing is
// fire and forget; a notifier failure never fails the verification.
type Notifier interface {
	PublishScanRecorded(ctx context.Context, details *models.ScanDetails) error
}

// Clock is injectable for deterministic timestamps in tests.
type Clock func() time.Time

type Verifier struct {
	tokens   store.TokenStore
	notifier Notifier
	logger   *zap.Logger
	now      Clock
}

func NewVerifier(tokens store.TokenStore, notifier Notifier, logger *zap.Logger) *Verifier {
	return &Verifier{
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the scan timestamp source.
func (v *Verifier) WithClock(now Clock) *Verifier {
	v.now = now
	return v
}

// Verify resolves a raw code string against the given event and applies the
// token's repeat policy. The returned outcome is always non-nil; transport
// and storage failures surface through the error return so the handler can
// answer 500 instead of a misleading verification failure.
func (v *Verifier) Verify(ctx context.Context, eventID uuid.UUID, raw string, scannedBy string) (*models.ScanOutcome, error) {
	if !qrtoken.Wellformed(raw) {
		// Corrupted or foreign input never reaches the database.
		return &models.ScanOutcome{Success: false, Message: MsgNotFound}, nil
	}

	tok, err := v.tokens.GetTokenByCode(ctx, raw)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &models.ScanOutcome{Success: false, Message: MsgNotFound}, nil
		}
		return nil, fmt.Errorf("failed to resolve code: %w", err)
	}

	if tok.EventID != eventID {
		v.logger.Warn("cross-event scan rejected",
			zap.String("code", raw),
			zap.String("token_event", tok.EventID.String()),
			zap.String("scan_event", eventID.String()))
		return &models.ScanOutcome{Success: false, Message: MsgWrongEvent}, nil
	}

	if tok.IsScanned && !tok.TrackingType.AllowsRepeat() {
		return v.alreadyScanned(tok), nil
	}

	scannedAt := v.now().UTC()

	if tok.TrackingType.AllowsRepeat() {
		if err := v.tokens.TouchScanned(ctx, tok.ID, scannedBy, scannedAt); err != nil {
			return nil, fmt.Errorf("failed to record repeat scan: %w", err)
		}
	} else {
		claimed, err := v.tokens.MarkScanned(ctx, tok.ID, scannedBy, scannedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to mark token scanned: %w", err)
		}
		if !claimed {
			// Another operator won the conditional write between our read
			// and this update. Re-fetch so the outcome carries the actual
			// scan time, then report the idempotent failure.
			fresh, err := v.tokens.GetTokenByCode(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to re-fetch token after lost claim: %w", err)
			}
			return v.alreadyScanned(fresh), nil
		}
	}

	rec := &models.ScanRecord{
		ID:        uuid.New(),
		TokenID:   tok.ID,
		EventID:   tok.EventID,
		ScannedBy: scannedBy,
		ScannedAt: scannedAt,
	}
	if err := v.tokens.AppendScanRecord(ctx, rec); err != nil {
		// The token state transition is already durable; losing the log
		// row must not fail the scan.
		v.logger.Error("failed to append scan record", zap.Error(err), zap.String("token_id", tok.ID.String()))
	}

	details := &models.ScanDetails{
		ID:           tok.ID,
		TeamName:     tok.TeamName,
		Label:        tok.Label,
		TrackingType: tok.TrackingType,
		ScannedAt:    scannedAt,
		ScannedBy:    scannedBy,
	}

	if v.notifier != nil {
		if err := v.notifier.PublishScanRecorded(ctx, details); err != nil {
			v.logger.Warn("failed to publish scan notification", zap.Error(err))
		}
	}

	v.logger.Info("token scanned",
		zap.String("code", raw),
		zap.String("team", tok.TeamName),
		zap.String("label", tok.Label),
		zap.String("scanned_by", scannedBy))

	return &models.ScanOutcome{
		Success: true,
		Message: MsgVerified,
		Data:    details,
	}, nil
}

func (v *Verifier) alreadyScanned(tok *models.TrackingToken) *models.ScanOutcome {
	out := &models.ScanOutcome{Success: false, Message: MsgAlreadyScanned}
	if tok.ScannedAt != nil {
		out.Message = fmt.Sprintf("%s at %s", MsgAlreadyScanned, tok.ScannedAt.UTC().Format(time.RFC3339))
	}
	return out
}
