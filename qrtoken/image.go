package qrtoken

import (
	"fmt"

	qrc "github.com/skip2/go-qrcode"
)

// EncodePNG renders the scannable artifact for a code as a PNG of the
// given edge length. Medium error correction keeps codes readable when
// partially occluded or printed small.
func EncodePNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("cannot encode empty code")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrc.Encode(code, qrc.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr image: %w", err)
	}
	return png, nil
}
