package pix

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRCodePNG renders payload as a PNG with high error correction, size pixels wide.
func QRCodePNG(payload string, size int) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.High, size)
	if err != nil {
		return nil, fmt.Errorf("error encoding qr code: %w", err)
	}
	return png, nil
}
