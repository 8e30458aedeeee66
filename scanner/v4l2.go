//go:build linux

package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blackjack/webcam"
)

// V4L2Device captures frames from a video4linux camera. Facing-mode
// preferences in a Profile are advisory only; V4L2 exposes no facing
// metadata, so the device path selects the camera.
type V4L2Device struct {
	Path string

	mu     sync.Mutex
	cam    *webcam.Webcam
	width  uint32
	height uint32
	packed bool // true when frames are YUYV, luma on even bytes
}

func NewV4L2Device(path string) *V4L2Device {
	if path == "" {
		path = "/dev/video0"
	}
	return &V4L2Device{Path: path}
}

func (d *V4L2Device) Open(ctx context.Context, p Profile) error {
	type opened struct {
		cam *webcam.Webcam
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		cam, err := webcam.Open(d.Path)
		ch <- opened{cam, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, os.ErrPermission) {
				return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Path)
			}
			if errors.Is(r.err, os.ErrNotExist) {
				return fmt.Errorf("%w: no device at %s", ErrUnsupported, d.Path)
			}
			return fmt.Errorf("failed to open %s: %w", d.Path, r.err)
		}
		if err := d.configure(r.cam, p); err != nil {
			r.cam.Close()
			return err
		}
		return nil
	}
}

func (d *V4L2Device) configure(cam *webcam.Webcam, p Profile) error {
	var yuyv, grey webcam.PixelFormat
	for f, desc := range cam.GetSupportedFormats() {
		u := strings.ToUpper(desc)
		if yuyv == 0 && (strings.Contains(u, "YUYV") || strings.Contains(u, "YUV 4:2:2")) {
			yuyv = f
		}
		if grey == 0 && (strings.Contains(u, "GREY") || strings.Contains(u, "GRAY")) {
			grey = f
		}
	}
	format, packed := yuyv, true
	if format == 0 {
		format, packed = grey, false
	}
	if format == 0 {
		return fmt.Errorf("%w: no YUYV or grayscale format offered", ErrUnsupported)
	}

	w, h := uint32(p.Width), uint32(p.Height)
	if w == 0 || h == 0 {
		w, h = 640, 480
	}

	_, gotW, gotH, err := cam.SetImageFormat(format, w, h)
	if err != nil {
		return fmt.Errorf("failed to set image format %dx%d: %w", w, h, err)
	}

	if err := cam.StartStreaming(); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}

	d.mu.Lock()
	d.cam = cam
	d.width, d.height = gotW, gotH
	d.packed = packed
	d.mu.Unlock()
	return nil
}

func (d *V4L2Device) ReadFrame(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	cam := d.cam
	w, h := int(d.width), int(d.height)
	packed := d.packed
	d.mu.Unlock()
	if cam == nil {
		return nil, errors.New("device not open")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return nil, fmt.Errorf("frame wait failed: %w", err)
		}

		raw, err := cam.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("frame read failed: %w", err)
		}
		if len(raw) == 0 {
			continue
		}

		pix := make([]byte, w*h)
		if packed {
			if len(raw) < w*h*2 {
				continue
			}
			for i := range pix {
				pix[i] = raw[2*i]
			}
		} else {
			if len(raw) < w*h {
				continue
			}
			copy(pix, raw[:w*h])
		}
		return &Frame{Pix: pix, Width: w, Height: h}, nil
	}
}

func (d *V4L2Device) Close() error {
	d.mu.Lock()
	cam := d.cam
	d.cam = nil
	d.mu.Unlock()
	if cam == nil {
		return nil
	}
	cam.StopStreaming()
	return cam.Close()
}
