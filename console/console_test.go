package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gatherly-backend/models"
	"gatherly-backend/scanner"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	codes   []string
	outcome *models.ScanOutcome
	err     error
	block   chan struct{}
}

func (r *recordingSubmitter) submit(ctx context.Context, raw string) (*models.ScanOutcome, error) {
	r.mu.Lock()
	r.codes = append(r.codes, raw)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return r.outcome, r.err
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.codes...)
}

func successOutcome() *models.ScanOutcome {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &models.ScanOutcome{
		Success: true,
		Message: "QR code verified successfully",
		Data: &models.ScanDetails{
			TeamName:     "Code Warriors",
			Label:        "Entry",
			TrackingType: models.TrackingOneTime,
			ScannedAt:    at,
			ScannedBy:    "staff-1",
		},
	}
}

func TestManualAndOpticalUseSameSubmitPath(t *testing.T) {
	sub := &recordingSubmitter{outcome: successOutcome()}
	var optical, manual bytes.Buffer

	New(&optical, sub.submit, zaptest.NewLogger(t)).SubmitScan(context.Background(), "qr-0011223344556677aa")
	New(&manual, sub.submit, zaptest.NewLogger(t)).SubmitManual(context.Background(), "  qr-0011223344556677aa \n")

	codes := sub.submitted()
	if len(codes) != 2 {
		t.Fatalf("submitted %d codes, want 2", len(codes))
	}
	if codes[0] != codes[1] {
		t.Errorf("paths diverged: optical=%q manual=%q", codes[0], codes[1])
	}

	// The rendered verdict is identical; only the capture preamble differs.
	opticalOut := optical.String()
	manualOut := manual.String()
	verdict := opticalOut[strings.Index(opticalOut, "VERIFIED"):]
	if !strings.HasSuffix(manualOut, verdict) {
		t.Errorf("manual verdict differs:\noptical: %s\nmanual: %s", opticalOut, manualOut)
	}
}

func TestSubmitManualRejectsEmpty(t *testing.T) {
	sub := &recordingSubmitter{outcome: successOutcome()}
	var buf bytes.Buffer
	ui := New(&buf, sub.submit, zaptest.NewLogger(t))

	for _, raw := range []string{"", "   ", "\t\n"} {
		ui.SubmitManual(context.Background(), raw)
	}
	if got := sub.submitted(); len(got) != 0 {
		t.Fatalf("empty input reached submitter: %v", got)
	}
	if !strings.Contains(buf.String(), "Enter a code") {
		t.Errorf("no prompt for empty input: %s", buf.String())
	}
}

func TestSingleInFlightVerification(t *testing.T) {
	sub := &recordingSubmitter{outcome: successOutcome(), block: make(chan struct{})}
	var buf bytes.Buffer
	ui := New(&buf, sub.submit, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		ui.SubmitManual(context.Background(), "qr-0011223344556677aa")
		close(done)
	}()

	// Wait until the first submission is in flight.
	for len(sub.submitted()) == 0 {
		time.Sleep(time.Millisecond)
	}

	ui.SubmitManual(context.Background(), "qr-ffeeddccbbaa998877")
	close(sub.block)
	<-done

	if got := sub.submitted(); len(got) != 1 {
		t.Fatalf("concurrent submission reached submitter: %v", got)
	}
	if !strings.Contains(buf.String(), "already in progress") {
		t.Errorf("no in-progress notice: %s", buf.String())
	}

	// A later submission goes through once the first completes.
	ui.SubmitManual(context.Background(), "qr-0011223344556677aa")
	if got := sub.submitted(); len(got) != 2 {
		t.Fatalf("follow-up submission dropped: %v", got)
	}
}

func TestRenderRejectedOutcome(t *testing.T) {
	sub := &recordingSubmitter{outcome: &models.ScanOutcome{Message: "QR code already scanned"}}
	var buf bytes.Buffer
	New(&buf, sub.submit, zaptest.NewLogger(t)).SubmitManual(context.Background(), "qr-0011223344556677aa")

	out := buf.String()
	if !strings.Contains(out, "REJECTED") || !strings.Contains(out, "already scanned") {
		t.Errorf("rejection not rendered: %s", out)
	}
}

func TestRenderTransportError(t *testing.T) {
	sub := &recordingSubmitter{err: errors.New("connection refused")}
	var buf bytes.Buffer
	New(&buf, sub.submit, zaptest.NewLogger(t)).SubmitManual(context.Background(), "qr-0011223344556677aa")

	if !strings.Contains(buf.String(), "Verification failed") {
		t.Errorf("transport error not rendered: %s", buf.String())
	}
}

func TestRenderCaptureErrorGuidance(t *testing.T) {
	cases := []struct {
		reason scanner.Reason
		want   string
	}{
		{scanner.ReasonDenied, "permission"},
		{scanner.ReasonUnsupported, "No usable camera"},
		{scanner.ReasonTimeout, "timed out"},
		{scanner.ReasonOther, "Camera error"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		ui := New(&buf, nil, zaptest.NewLogger(t))
		ui.RenderCaptureError(tc.reason, errors.New("boom"))
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("reason %s: output %q missing %q", tc.reason, buf.String(), tc.want)
		}
		if !strings.Contains(buf.String(), "manually") {
			t.Errorf("reason %s: no manual entry fallback mentioned", tc.reason)
		}
	}
}

func TestRenderStates(t *testing.T) {
	var buf bytes.Buffer
	ui := New(&buf, nil, zaptest.NewLogger(t))
	for _, s := range []scanner.State{scanner.StateRequesting, scanner.StateActive, scanner.StateScanning, scanner.StateStopped} {
		ui.RenderState(s)
	}
	out := buf.String()
	for _, want := range []string{"Requesting camera", "Camera ready", "Scanning", "Camera stopped"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}
