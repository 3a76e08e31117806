package channel

import (
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
)

// PrintQR renders a pairing payload as a half-block QR code on a terminal
func PrintQR(w io.Writer, payload string) {
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, w)
}

// QRCodePNG encodes a pairing payload as a PNG image of the given size
func QRCodePNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
