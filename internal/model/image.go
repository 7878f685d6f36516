package model

import (
	"fmt"
	"time"
)

// Image is the catalog record for one distinct uploaded content.
type Image struct {
	ContentID          string    `json:"content_id"`        // hex md5 of the original bytes
	OriginalFilename   string    `json:"original_filename"` // display only
	ContentType        string    `json:"content_type"`
	Size               int64     `json:"size"`
	OriginalLocation   string    `json:"original_location"`
	DerivativeLocation string    `json:"derivative_location"`
	OriginalURL        string    `json:"original_url,omitempty"`
	DerivativeURL      string    `json:"derivative_url,omitempty"`
	Width              int       `json:"width"` // derivative dimensions
	Height             int       `json:"height"`
	OriginalWidth      int       `json:"original_width"`
	OriginalHeight     int       `json:"original_height"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Variant selects which stored blob of an image is served.
type Variant string

const (
	VariantOriginal   Variant = "original"
	VariantCompressed Variant = "compressed"
)

// ParseVariant validates a variant name taken from a request path.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantOriginal, VariantCompressed:
		return Variant(s), nil
	default:
		return "", fmt.Errorf("unknown variant %q", s)
	}
}

// Location returns the blob locator of the given variant.
func (img Image) Location(v Variant) string {
	if v == VariantOriginal {
		return img.OriginalLocation
	}
	return img.DerivativeLocation
}
