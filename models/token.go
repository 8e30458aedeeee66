package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackingType categorizes a token and governs its repeat-scan policy.
type TrackingType string

const (
	TrackingOneTime  TrackingType = "one_time"
	TrackingMultiUse TrackingType = "multi_use"
)

// AllowsRepeat reports whether a token of this type may be scanned again
// after a successful scan. Unknown types behave as one_time.
func (t TrackingType) AllowsRepeat() bool {
	return t == TrackingMultiUse
}

func (t TrackingType) Valid() bool {
	return t == TrackingOneTime || t == TrackingMultiUse
}

// TrackingToken is one scannable purpose for one team at one event.
type TrackingToken struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Code         string       `json:"code" db:"code"`
	EventID      uuid.UUID    `json:"eventId" db:"event_id"`
	TeamID       uuid.UUID    `json:"teamId" db:"team_id"`
	TeamName     string       `json:"teamName" db:"team_name"`
	Label        string       `json:"label" db:"label"`
	TrackingType TrackingType `json:"trackingType" db:"tracking_type"`
	ImageURL     *string      `json:"qrCodeUrl,omitempty" db:"image_url"`
	IsScanned    bool         `json:"isScanned" db:"is_scanned"`
	ScannedAt    *time.Time   `json:"scannedAt,omitempty" db:"scanned_at"`
	ScannedBy    *string      `json:"scannedBy,omitempty" db:"scanned_by"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
}

// ScanRecord is one row of the append-only scan log.
type ScanRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TokenID   uuid.UUID `json:"tokenId" db:"token_id"`
	EventID   uuid.UUID `json:"eventId" db:"event_id"`
	ScannedBy string    `json:"scannedBy" db:"scanned_by"`
	ScannedAt time.Time `json:"scannedAt" db:"scanned_at"`
}

// ScanOutcome is the structured result of one verification attempt. It is
// built fresh per attempt and never stored.
type ScanOutcome struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    *ScanDetails `json:"data,omitempty"`
}

type ScanDetails struct {
	ID           uuid.UUID    `json:"id"`
	TeamName     string       `json:"teamName"`
	Label        string       `json:"label"`
	TrackingType TrackingType `json:"trackingType"`
	ScannedAt    time.Time    `json:"scannedAt"`
	ScannedBy    string       `json:"scannedBy"`
}

type VerifyQRRequest struct {
	QRData string `json:"qrData" binding:"required"`
}

type TrackingConfigRequest struct {
	Trackers []TrackerSpec `json:"trackers" binding:"required,dive"`
}

type TrackerSpec struct {
	Label        string       `json:"label" binding:"required"`
	TrackingType TrackingType `json:"trackingType" binding:"required"`
}
