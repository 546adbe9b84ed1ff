// Package qr renders bearer codes as scannable PNG matrices.
package qr

import (
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize matches the issuer display: a 256px square.
const DefaultSize = 256

// EncodePNG renders the code with the highest error-correction level so the
// matrix survives camera capture at modest distance and angle.
func EncodePNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(code, qrcode.Highest, size)
}
