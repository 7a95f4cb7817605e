package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

const defaultImageMIME = "image/jpeg"

// Image is a captured photo as sent to the vision model.
type Image struct {
	Data     []byte
	MIMEType string
}

// NewImage builds an Image, sniffing the MIME type when none is given.
func NewImage(data []byte, mimeType string) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = defaultImageMIME
		}
	}
	return Image{Data: data, MIMEType: mimeType}, nil
}

// Key is a content hash identifying the image for classification memoization.
func (i Image) Key() string {
	sum := sha256.Sum256(i.Data)
	return hex.EncodeToString(sum[:])
}

// DataURL renders the image inline for the chat completions image_url part.
func (i Image) DataURL() string {
	mimeType := i.MIMEType
	if mimeType == "" {
		mimeType = defaultImageMIME
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
