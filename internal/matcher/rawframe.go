package matcher

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
)

// RawFrameMagic prefixes uncompressed frames written by legacy scanners:
// magic, big-endian uint16 width and height, then width*height 8-bit gray pixels.
const RawFrameMagic = "FPR1"

const rawHeaderLen = len(RawFrameMagic) + 4

func init() {
	image.RegisterFormat("fpr", RawFrameMagic, decodeRawFrame, decodeRawFrameConfig)
}

func readRawHeader(r io.Reader) (int, int, error) {
	var hdr [rawHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, fmt.Errorf("read raw frame header: %w", err)
	}
	if string(hdr[:len(RawFrameMagic)]) != RawFrameMagic {
		return 0, 0, fmt.Errorf("not a raw frame")
	}
	w := int(binary.BigEndian.Uint16(hdr[4:6]))
	h := int(binary.BigEndian.Uint16(hdr[6:8]))
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("raw frame has empty dimensions %dx%d", w, h)
	}
	return w, h, nil
}

func decodeRawFrameConfig(r io.Reader) (image.Config, error) {
	w, h, err := readRawHeader(r)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.GrayModel, Width: w, Height: h}, nil
}

func decodeRawFrame(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	w, h, err := readRawHeader(br)
	if err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	if _, err := io.ReadFull(br, img.Pix); err != nil {
		return nil, fmt.Errorf("read raw frame pixels: %w", err)
	}
	return img, nil
}

// EncodeRawFrame serializes a gray image as a raw scanner frame.
func EncodeRawFrame(img *image.Gray) []byte {
	b := img.Bounds()
	out := make([]byte, rawHeaderLen, rawHeaderLen+b.Dx()*b.Dy())
	copy(out, RawFrameMagic)
	binary.BigEndian.PutUint16(out[4:6], uint16(b.Dx()))
	binary.BigEndian.PutUint16(out[6:8], uint16(b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		out = append(out, img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]...)
	}
	return out
}
