package qrtoken

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// DecodeFrame runs QR recognition over one captured frame. The buffer is
// interpreted as 8-bit grayscale (w*h bytes) or RGBA (w*h*4 bytes). A frame
// with no recognizable code, or malformed pixel data, yields ("", false):
// decode misses are not errors, the caller just samples the next frame.
func DecodeFrame(pix []byte, w, h int) (string, bool) {
	if w <= 0 || h <= 0 {
		return "", false
	}

	var img image.Image
	switch len(pix) {
	case w * h:
		g := &image.Gray{Pix: pix, Stride: w, Rect: image.Rect(0, 0, w, h)}
		img = g
	case w * h * 4:
		r := &image.RGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
		img = r
	default:
		return "", false
	}

	return DecodeImage(img)
}

// DecodeImage is DecodeFrame over an already-constructed image.
func DecodeImage(img image.Image) (code string, ok bool) {
	if img == nil {
		return "", false
	}
	// The underlying reader is not hardened against degenerate input.
	defer func() {
		if recover() != nil {
			code, ok = "", false
		}
	}()

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || result == nil {
		return "", false
	}

	text := result.GetText()
	if text == "" {
		return "", false
	}
	return text, true
}
