//go:build linux

// Command scanner is the operator terminal for verifying attendance QR codes
// against a running backend. It drives a V4L2 camera when one is available and
// always accepts manually typed codes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gatherly-backend/client"
	"gatherly-backend/console"
	"gatherly-backend/logger"
	"gatherly-backend/models"
	"gatherly-backend/scanner"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "backend base URL")
		eventID   = flag.String("event", "", "event id to verify against")
		staffID   = flag.String("staff", "", "staff identity recorded on each scan")
		device    = flag.String("device", "/dev/video0", "camera device path")
		interval  = flag.Duration("interval", scanner.DefaultInterval, "decode sampling interval")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *eventID == "" || *staffID == "" {
		fmt.Fprintln(os.Stderr, "usage: scanner -event <event-id> -staff <staff-id> [-server URL] [-device PATH]")
		os.Exit(2)
	}

	log, err := logger.New(*logLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &client.Client{BaseURL: *serverURL, StaffID: *staffID}

	ev, err := cli.GetEvent(ctx, *eventID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot load event %s: %v\n", *eventID, err)
		os.Exit(1)
	}
	fmt.Printf("Event: %s (%s)\n", ev.Title, ev.Status)
	if ev.Status != models.StatusRunning && ev.Status != models.StatusPublished {
		fmt.Printf("Warning: event status is %q, scans will still be recorded.\n", ev.Status)
	}

	ui := console.New(os.Stdout, func(ctx context.Context, raw string) (*models.ScanOutcome, error) {
		return cli.VerifyCode(ctx, *eventID, raw)
	}, log)

	// A session ends exactly once, either with a decoded code or a capture
	// error, so a 1-buffered channel never blocks the callbacks.
	sessionEnd := make(chan struct{}, 1)

	loop, err := scanner.New(scanner.Config{
		Device:   scanner.NewV4L2Device(*device),
		Interval: *interval,
		OnState:  ui.RenderState,
		OnDecoded: func(code string) {
			ui.SubmitScan(ctx, code)
			sessionEnd <- struct{}{}
		},
		OnError: func(reason scanner.Reason, err error) {
			ui.RenderCaptureError(reason, err)
			sessionEnd <- struct{}{}
		},
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot set up capture: %v\n", err)
		os.Exit(1)
	}

	stdin := bufio.NewScanner(os.Stdin)
	for {
		if err := loop.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot start capture: %v\n", err)
			os.Exit(1)
		}

		select {
		case <-sessionEnd:
		case <-ctx.Done():
			loop.Stop()
			fmt.Println("\nBye.")
			return
		}

		for {
			ui.PromptScanAgain()
			if !stdin.Scan() {
				loop.Stop()
				return
			}
			line := strings.TrimSpace(stdin.Text())
			if line == "q" || line == "quit" {
				loop.Stop()
				return
			}
			if line == "" {
				break
			}
			submitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			ui.SubmitManual(submitCtx, line)
			cancel()
		}
	}
}
