package render

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the QR image edge in pixels.
const DefaultQRSize = 512

// QR encodes content as a PNG QR code at medium error correction.
func QR(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qr content is empty")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
