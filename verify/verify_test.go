package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"gatherly-backend/models"
	"gatherly-backend/qrtoken"
	"gatherly-backend/store"
)

// memTokenStore implements store.TokenStore with the same conditional-write
// semantics as the Postgres UPDATE, guarded by a mutex so the race test
// exercises real interleavings.
type memTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]*models.TrackingToken
	records []*models.ScanRecord

	failGetByCode error
	failMark      error
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]*models.TrackingToken{}}
}

func (m *memTokenStore) add(tok *models.TrackingToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.Code] = tok
}

func (m *memTokenStore) GetTokenByCode(ctx context.Context, code string) (*models.TrackingToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetByCode != nil {
		return nil, m.failGetByCode
	}
	tok, ok := m.tokens[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memTokenStore) GetToken(ctx context.Context, id uuid.UUID) (*models.TrackingToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.ID == id {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memTokenStore) MarkScanned(ctx context.Context, tokenID uuid.UUID, scannedBy string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark != nil {
		return false, m.failMark
	}
	for _, tok := range m.tokens {
		if tok.ID == tokenID {
			if tok.IsScanned {
				return false, nil
			}
			tok.IsScanned = true
			tok.ScannedAt = &at
			tok.ScannedBy = &scannedBy
			return true, nil
		}
	}
	return false, nil
}

func (m *memTokenStore) TouchScanned(ctx context.Context, tokenID uuid.UUID, scannedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.ID == tokenID {
			tok.IsScanned = true
			tok.ScannedAt = &at
			tok.ScannedBy = &scannedBy
		}
	}
	return nil
}

func (m *memTokenStore) AppendScanRecord(ctx context.Context, rec *models.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memTokenStore) CreateToken(ctx context.Context, tok *models.TrackingToken) error {
	m.add(tok)
	return nil
}

func (m *memTokenStore) ListTeamTokens(ctx context.Context, eventID, teamID uuid.UUID) ([]*models.TrackingToken, error) {
	return nil, nil
}

func (m *memTokenStore) ListScans(ctx context.Context, eventID uuid.UUID) ([]*models.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ScanRecord(nil), m.records...), nil
}

type mockNotifier struct {
	mu        sync.Mutex
	published []*models.ScanDetails
	err       error
}

func (n *mockNotifier) PublishScanRecorded(ctx context.Context, details *models.ScanDetails) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.published = append(n.published, details)
	return nil
}

func newToken(eventID uuid.UUID, teamName, label string, tt models.TrackingType) *models.TrackingToken {
	return &models.TrackingToken{
		ID:           uuid.New(),
		Code:         qrtoken.Generate(),
		EventID:      eventID,
		TeamID:       uuid.New(),
		TeamName:     teamName,
		Label:        label,
		TrackingType: tt,
		CreatedAt:    time.Now(),
	}
}

func TestVerifyOneTimeIdempotence(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Code Warriors", "Lunch", models.TrackingOneTime)
	tokens := newMemTokenStore()
	tokens.add(tok)

	v := NewVerifier(tokens, nil, zaptest.NewLogger(t))

	first, err := v.Verify(context.Background(), eventID, tok.Code, "staff-1")
	if err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if !first.Success {
		t.Fatalf("first Verify() failed: %s", first.Message)
	}
	if first.Data == nil {
		t.Fatal("first Verify() returned no details")
	}
	if first.Data.TeamName != "Code Warriors" || first.Data.Label != "Lunch" {
		t.Errorf("unexpected details: %+v", first.Data)
	}
	if first.Data.TrackingType != models.TrackingOneTime {
		t.Errorf("unexpected tracking type: %s", first.Data.TrackingType)
	}
	firstScanAt := first.Data.ScannedAt

	second, err := v.Verify(context.Background(), eventID, tok.Code, "staff-2")
	if err != nil {
		t.Fatalf("second Verify() error = %v", err)
	}
	if second.Success {
		t.Fatal("second Verify() reported success for a one_time token")
	}
	if !strings.Contains(second.Message, "already") {
		t.Errorf("second Verify() message = %q, want already-scanned", second.Message)
	}

	// The stored timestamp must be the first scan's, untouched.
	stored, err := tokens.GetTokenByCode(context.Background(), tok.Code)
	if err != nil {
		t.Fatalf("GetTokenByCode() error = %v", err)
	}
	if stored.ScannedAt == nil || !stored.ScannedAt.Equal(firstScanAt) {
		t.Errorf("stored scan time changed: got %v, want %v", stored.ScannedAt, firstScanAt)
	}
	if stored.ScannedBy == nil || *stored.ScannedBy != "staff-1" {
		t.Errorf("stored scanner identity changed: got %v", stored.ScannedBy)
	}
}

func TestVerifyRaceSafety(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Racers", "Entry", models.TrackingOneTime)
	tokens := newMemTokenStore()
	tokens.add(tok)

	v := NewVerifier(tokens, nil, zaptest.NewLogger(t))

	const attempts = 16
	outcomes := make([]*models.ScanOutcome, attempts)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			out, err := v.Verify(context.Background(), eventID, tok.Code, "staff")
			if err != nil {
				t.Errorf("Verify() error = %v", err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, out := range outcomes {
		if out == nil {
			t.Fatal("missing outcome")
		}
		if out.Success {
			successes++
		} else if !strings.Contains(out.Message, "already") {
			t.Errorf("losing outcome message = %q, want already-scanned", out.Message)
		}
	}
	if successes != 1 {
		t.Errorf("got %d successes, want exactly 1", successes)
	}
}

func TestVerifyCrossEventRejection(t *testing.T) {
	eventA := uuid.New()
	eventB := uuid.New()
	tok := newToken(eventA, "Visitors", "Entry", models.TrackingOneTime)
	tokens := newMemTokenStore()
	tokens.add(tok)

	v := NewVerifier(tokens, nil, zaptest.NewLogger(t))

	out, err := v.Verify(context.Background(), eventB, tok.Code, "staff")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if out.Success {
		t.Fatal("cross-event scan reported success")
	}
	if out.Message != MsgWrongEvent {
		t.Errorf("message = %q, want %q", out.Message, MsgWrongEvent)
	}

	// Still rejected once scanned at its own event.
	if _, err := v.Verify(context.Background(), eventA, tok.Code, "staff"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	out, err = v.Verify(context.Background(), eventB, tok.Code, "staff")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if out.Success || out.Message != MsgWrongEvent {
		t.Errorf("scanned cross-event token: success=%v message=%q", out.Success, out.Message)
	}
}

func TestVerifyUnknownCode(t *testing.T) {
	tokens := newMemTokenStore()
	v := NewVerifier(tokens, nil, zaptest.NewLogger(t))

	for _, raw := range []string{"garbage", "", qrtoken.Generate()} {
		out, err := v.Verify(context.Background(), uuid.New(), raw, "staff")
		if err != nil {
			t.Fatalf("Verify(%q) error = %v", raw, err)
		}
		if out.Success {
			t.Errorf("Verify(%q) reported success", raw)
		}
		if out.Message != MsgNotFound {
			t.Errorf("Verify(%q) message = %q, want %q", raw, out.Message, MsgNotFound)
		}
	}
}

func TestVerifyMultiUseRepeats(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Regulars", "Check-in", models.TrackingMultiUse)
	tokens := newMemTokenStore()
	tokens.add(tok)

	v := NewVerifier(tokens, nil, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		out, err := v.Verify(context.Background(), eventID, tok.Code, "staff")
		if err != nil {
			t.Fatalf("Verify() #%d error = %v", i+1, err)
		}
		if !out.Success {
			t.Fatalf("Verify() #%d failed: %s", i+1, out.Message)
		}
	}

	recs, _ := tokens.ListScans(context.Background(), eventID)
	if len(recs) != 3 {
		t.Errorf("got %d scan records, want 3", len(recs))
	}
}

func TestVerifyPublishesNotification(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Notified", "Entry", models.TrackingOneTime)
	tokens := newMemTokenStore()
	tokens.add(tok)

	notifier := &mockNotifier{}
	v := NewVerifier(tokens, notifier, zaptest.NewLogger(t))

	out, err := v.Verify(context.Background(), eventID, tok.Code, "staff")
	if err != nil || !out.Success {
		t.Fatalf("Verify() = %v, %v", out, err)
	}
	if len(notifier.published) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.published))
	}
	if notifier.published[0].TeamName != "Notified" {
		t.Errorf("unexpected notification details: %+v", notifier.published[0])
	}
}

func TestVerifyNotifierFailureDoesNotFailScan(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Team", "Entry", models.TrackingOneTime)
	tokens := newMemTokenStore()
	tokens.add(tok)

	notifier := &mockNotifier{err: errors.New("nats down")}
	v := NewVerifier(tokens, notifier, zaptest.NewLogger(t))

	out, err := v.Verify(context.Background(), eventID, tok.Code, "staff")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !out.Success {
		t.Errorf("Verify() failed because of notifier: %s", out.Message)
	}
}

func TestVerifyStoreErrors(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Team", "Entry", models.TrackingOneTime)

	t.Run("resolve_error", func(t *testing.T) {
		tokens := newMemTokenStore()
		tokens.add(tok)
		tokens.failGetByCode = errors.New("connection refused")
		v := NewVerifier(tokens, nil, zaptest.NewLogger(t))
		if _, err := v.Verify(context.Background(), eventID, tok.Code, "staff"); err == nil {
			t.Error("expected error when resolution fails")
		}
	})

	t.Run("claim_error", func(t *testing.T) {
		tokens := newMemTokenStore()
		tokens.add(tok)
		tokens.failMark = errors.New("connection refused")
		v := NewVerifier(tokens, nil, zaptest.NewLogger(t))
		if _, err := v.Verify(context.Background(), eventID, tok.Code, "staff"); err == nil {
			t.Error("expected error when conditional write fails")
		}
	})
}

func TestVerifyFixedClock(t *testing.T) {
	eventID := uuid.New()
	tok := newToken(eventID, "Clockwork", "Entry", models.TrackingOneTime)
	tokens := newMemTokenStore()
	tokens.add(tok)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(tokens, nil, zaptest.NewLogger(t)).WithClock(func() time.Time { return at })

	out, err := v.Verify(context.Background(), eventID, tok.Code, "staff")
	if err != nil || !out.Success {
		t.Fatalf("Verify() = %v, %v", out, err)
	}
	if !out.Data.ScannedAt.Equal(at) {
		t.Errorf("ScannedAt = %v, want %v", out.Data.ScannedAt, at)
	}
}
