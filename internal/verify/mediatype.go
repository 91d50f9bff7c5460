package verify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/your-org/fpv/internal/errs"
	"github.com/your-org/fpv/internal/matcher"
	"github.com/your-org/fpv/internal/models"
)

// RawFrameMIME is reported for uncompressed legacy scanner frames. Such
// frames are accepted as image/bmp.
const RawFrameMIME = "image/x-fingerprint-raw"

func init() {
	mimetype.Lookup("application/octet-stream").Extend(func(raw []byte, _ uint32) bool {
		return bytes.HasPrefix(raw, []byte(matcher.RawFrameMagic))
	}, RawFrameMIME, ".fpr")
}

// DetectMediaType returns the sniffed media type, with raw scanner frames
// normalized to image/bmp.
func DetectMediaType(sample []byte) string {
	mt := mimetype.Detect(sample)
	if mt.Is(RawFrameMIME) {
		return "image/bmp"
	}
	mime, _, _ := strings.Cut(mt.String(), ";")
	return mime
}

// checkMediaType accepts whitelisted images for the image kind and
// structured text for the template kind.
func checkMediaType(sample []byte, kind models.SampleKind, accepted []string) error {
	switch kind {
	case models.SampleKindImage:
		detected := DetectMediaType(sample)
		for _, a := range accepted {
			if strings.EqualFold(a, detected) {
				return nil
			}
		}
		return errs.New(errs.KindInvalidImageFormat, fmt.Sprintf("unsupported image type %s", detected))
	case models.SampleKindTemplate:
		for mt := mimetype.Detect(sample); mt != nil; mt = mt.Parent() {
			if mt.Is("text/plain") {
				return nil
			}
		}
		return errs.New(errs.KindInvalidImageFormat, "template must be plain text")
	default:
		return errs.New(errs.KindInvalidImageFormat, fmt.Sprintf("unknown image type %q", kind))
	}
}
