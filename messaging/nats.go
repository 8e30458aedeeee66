package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gatherly-backend/models"
)

// Subjects carrying scan traffic.
const (
	SubjectScanRecorded = "tracking.scanned"
)

type NATSClient interface {
	PublishScanRecorded(ctx context.Context, details *models.ScanDetails) error
	SubscribeToScanRecorded(ctx context.Context, handler func(*ScanRecordedMessage)) error
	Close()
}

// natsConnection is the slice of *nats.Conn the client uses.
type natsConnection interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

type natsClient struct {
	conn   natsConnection
	logger *zap.Logger
}

func NewNATSClient(url string, logger *zap.Logger) (NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return &natsClient{conn: conn, logger: logger}, nil
}

// ScanRecordedMessage is the wire form of a durable scan, consumed by
// dashboards for live attendance updates.
type ScanRecordedMessage struct {
	TokenID      string    `json:"token_id"`
	TeamName     string    `json:"team_name"`
	Label        string    `json:"label"`
	TrackingType string    `json:"tracking_type"`
	ScannedAt    time.Time `json:"scanned_at"`
	ScannedBy    string    `json:"scanned_by"`
}

func (c *natsClient) PublishScanRecorded(ctx context.Context, details *models.ScanDetails) error {
	msg := ScanRecordedMessage{
		TokenID:      details.ID.String(),
		TeamName:     details.TeamName,
		Label:        details.Label,
		TrackingType: string(details.TrackingType),
		ScannedAt:    details.ScannedAt,
		ScannedBy:    details.ScannedBy,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal scan message", zap.Error(err))
		return fmt.Errorf("failed to marshal scan message: %w", err)
	}

	if err := c.conn.Publish(SubjectScanRecorded, data); err != nil {
		c.logger.Error("failed to publish scan message", zap.Error(err), zap.String("token_id", msg.TokenID))
		return fmt.Errorf("failed to publish scan message: %w", err)
	}

	c.logger.Info("scan published", zap.String("token_id", msg.TokenID), zap.String("team", msg.TeamName))
	return nil
}

func (c *natsClient) SubscribeToScanRecorded(ctx context.Context, handler func(*ScanRecordedMessage)) error {
	_, err := c.conn.Subscribe(SubjectScanRecorded, func(msg *nats.Msg) {
		var scan ScanRecordedMessage
		if err := json.Unmarshal(msg.Data, &scan); err != nil {
			c.logger.Error("failed to unmarshal scan message", zap.Error(err))
			return
		}
		handler(&scan)
	})
	if err != nil {
		c.logger.Error("failed to subscribe to scans", zap.Error(err))
		return fmt.Errorf("failed to subscribe to scans: %w", err)
	}

	c.logger.Info("subscribed to scan messages")
	return nil
}

func (c *natsClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("NATS connection closed")
	}
}
