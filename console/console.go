// Package console renders scan progress and verification outcomes for the
// operator terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gatherly-backend/models"
	"gatherly-backend/scanner"
)

// Submitter sends a raw code payload for verification. Optical decodes and
// manually typed codes both go through the same Submitter.
type Submitter func(ctx context.Context, raw string) (*models.ScanOutcome, error)

// UI writes operator-facing text to out. Safe for concurrent use; at most one
// verification is in flight at a time, extra submissions are dropped with a
// notice.
type UI struct {
	out    io.Writer
	submit Submitter
	logger *zap.Logger

	mu       sync.Mutex
	inFlight bool
}

func New(out io.Writer, submit Submitter, logger *zap.Logger) *UI {
	return &UI{out: out, submit: submit, logger: logger}
}

// RenderState prints a one-line status for each capture state change.
func (u *UI) RenderState(s scanner.State) {
	switch s {
	case scanner.StateRequesting:
		fmt.Fprintln(u.out, "Requesting camera...")
	case scanner.StateActive:
		fmt.Fprintln(u.out, "Camera ready.")
	case scanner.StateScanning:
		fmt.Fprintln(u.out, "Scanning for QR code...")
	case scanner.StateStopped:
		fmt.Fprintln(u.out, "Camera stopped.")
	}
}

// RenderCaptureError prints the failure and what the operator can do about it.
// Manual entry stays available whatever the camera does.
func (u *UI) RenderCaptureError(reason scanner.Reason, err error) {
	switch reason {
	case scanner.ReasonDenied:
		fmt.Fprintln(u.out, "Camera access denied. Grant camera permission and retry, or type the code manually.")
	case scanner.ReasonUnsupported:
		fmt.Fprintln(u.out, "No usable camera found. Type the code manually.")
	case scanner.ReasonTimeout:
		fmt.Fprintln(u.out, "Camera timed out. Check the device connection and retry, or type the code manually.")
	default:
		fmt.Fprintf(u.out, "Camera error: %v. Retry, or type the code manually.\n", err)
	}
	if u.logger != nil {
		u.logger.Warn("capture failed", zap.String("reason", string(reason)), zap.Error(err))
	}
}

// SubmitScan verifies an optically decoded payload.
func (u *UI) SubmitScan(ctx context.Context, raw string) {
	fmt.Fprintf(u.out, "Code captured: %s\n", raw)
	u.dispatch(ctx, raw)
}

// SubmitManual verifies a typed code. Input is trimmed; empty entries are
// rejected before touching the network.
func (u *UI) SubmitManual(ctx context.Context, raw string) {
	code := strings.TrimSpace(raw)
	if code == "" {
		fmt.Fprintln(u.out, "Enter a code before submitting.")
		return
	}
	u.dispatch(ctx, code)
}

func (u *UI) dispatch(ctx context.Context, code string) {
	u.mu.Lock()
	if u.inFlight {
		u.mu.Unlock()
		fmt.Fprintln(u.out, "A verification is already in progress.")
		return
	}
	u.inFlight = true
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.inFlight = false
		u.mu.Unlock()
	}()

	out, err := u.submit(ctx, code)
	if err != nil {
		fmt.Fprintf(u.out, "Verification failed: %v\n", err)
		if u.logger != nil {
			u.logger.Error("verification request failed", zap.Error(err))
		}
		return
	}
	u.renderOutcome(out)
}

func (u *UI) renderOutcome(out *models.ScanOutcome) {
	if !out.Success {
		fmt.Fprintf(u.out, "REJECTED: %s\n", out.Message)
		return
	}
	fmt.Fprintf(u.out, "VERIFIED: %s\n", out.Message)
	if d := out.Data; d != nil {
		fmt.Fprintf(u.out, "  Team: %s\n", d.TeamName)
		fmt.Fprintf(u.out, "  Tracker: %s (%s)\n", d.Label, d.TrackingType)
		if !d.ScannedAt.IsZero() {
			fmt.Fprintf(u.out, "  Scanned at: %s by %s\n", d.ScannedAt.Format("15:04:05"), d.ScannedBy)
		}
	}
}

// PromptScanAgain prints the idle prompt between scan sessions.
func (u *UI) PromptScanAgain() {
	fmt.Fprintln(u.out, "Press Enter to scan again, type a code to enter it manually, or 'q' to quit.")
}
