// Package evidence validates manually-submitted payment-evidence images and
// reads the transfer amount off receipts with Tesseract.
package evidence

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

var (
	// ErrBadType means the upload is not one of the allowed image types.
	ErrBadType = errors.New("invalid file type, only JPG, PNG, WEBP allowed")
	// ErrTooLarge means the upload exceeds the configured size ceiling.
	ErrTooLarge = errors.New("file too large")
	// ErrNotAnImage means the bytes do not decode as an image at all,
	// whatever the headers claim.
	ErrNotAnImage = errors.New("file does not decode as an image")
	// ErrNoAmount is returned when no plausible monetary amount is found.
	ErrNoAmount = errors.New("no amount detected")
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ValidateUpload checks the declared name, content type and size against the
// allowed image types and the configured ceiling. It trusts nothing about the
// bytes themselves; DecodeCheck does that.
func ValidateUpload(filename, contentType string, size, maxBytes int64) error {
	if filename == "" {
		return fmt.Errorf("%w: no filename", ErrBadType)
	}
	ext := ""
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		ext = strings.ToLower(filename[i:])
	}
	if !allowedExtensions[ext] {
		return ErrBadType
	}
	if !allowedContentTypes[strings.ToLower(contentType)] {
		return ErrBadType
	}
	if size > maxBytes {
		return fmt.Errorf("%w: max %d bytes", ErrTooLarge, maxBytes)
	}
	return nil
}

// DecodeCheck verifies the uploaded bytes actually decode as an image, so a
// renamed binary cannot pass on headers alone.
func DecodeCheck(r io.Reader) error {
	if _, err := imaging.Decode(r); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return nil
}
