package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatherly-backend/models"
	"gatherly-backend/store"
)

// EventTTL mirrors the 60s response caching the read path always had.
const EventTTL = 60 * time.Second

// Events wraps an EventStore with read-through caching of event lookups.
// A cache failure degrades to the store; it never fails the request.
type Events struct {
	inner  store.EventStore
	cache  Store
	logger *zap.Logger
}

func NewEvents(inner store.EventStore, cache Store, logger *zap.Logger) *Events {
	return &Events{inner: inner, cache: cache, logger: logger}
}

func eventKey(id uuid.UUID) string {
	return "event:" + id.String()
}

func (e *Events) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	key := eventKey(id)

	if b, found, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("event cache read failed", zap.Error(err), zap.String("event_id", id.String()))
	} else if found {
		var ev models.Event
		if err := json.Unmarshal(b, &ev); err == nil {
			return &ev, nil
		}
		// Unreadable entry: drop it and fall through to the store.
		_ = e.cache.Delete(ctx, key)
	}

	ev, err := e.inner.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(ev); err == nil {
		if err := e.cache.Set(ctx, key, b, EventTTL); err != nil {
			e.logger.Warn("event cache write failed", zap.Error(err), zap.String("event_id", id.String()))
		}
	}
	return ev, nil
}

func (e *Events) ListTeams(ctx context.Context, eventID uuid.UUID) ([]*models.Team, error) {
	return e.inner.ListTeams(ctx, eventID)
}
