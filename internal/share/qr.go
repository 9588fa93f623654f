package share

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the edge length of generated QR images in pixels
const QRSize = 200

// QRCode renders content as a PNG QR code. An empty content encodes
// DefaultLink.
func QRCode(content string) ([]byte, error) {
	if content == "" {
		content = DefaultLink
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("build qr code: %w", err)
	}
	png, err := q.PNG(QRSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}

// DataURL inlines a PNG image
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
