package scanner

import (
	"context"
	"errors"
)

// Device failure classes the loop can act on. Anything else is "other".
var (
	ErrPermissionDenied = errors.New("camera access denied")
	ErrUnsupported      = errors.New("camera capture not supported")
)

// Frame is one captured image, 8-bit grayscale unless len(Pix) says RGBA.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
}

// Profile is one constraint shape to request from the device. Profiles are
// tried in order because device capability varies widely and the operator
// must not be blocked by a narrow initial request.
type Profile struct {
	Name       string
	Width      int
	Height     int
	FacingRear bool
}

// DefaultProfiles mirrors the preference order the check-in flow always
// used: ideal resolution and rear camera first, then basic facing mode,
// then any available video input.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "ideal", Width: 1280, Height: 720, FacingRear: true},
		{Name: "basic", FacingRear: true},
		{Name: "any"},
	}
}

// Device is an optical input. A Device is exclusively owned by one Loop
// between Open and Close.
type Device interface {
	// Open acquires the device with the given constraint profile; it must
	// honor ctx cancellation and return ErrPermissionDenied or
	// ErrUnsupported (possibly wrapped) when those apply.
	Open(ctx context.Context, p Profile) error

	// ReadFrame blocks until a frame is available or ctx is done.
	ReadFrame(ctx context.Context) (*Frame, error)

	Close() error
}
