package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
)

// ErrNoMetadata is returned when neither EXIF nor an image header can be read.
var ErrNoMetadata = errors.New("no extractable metadata")

// Metadata is the structured view of an image's capture evidence. Zero values
// mean the field was absent.
type Metadata struct {
	CaptureTime *time.Time
	HasGPS      bool
	Latitude    float64
	Longitude   float64
	Device      string // "Make Model", trimmed
	Software    string
	Width       int
	Height      int
}

// HasResolution reports whether both dimensions are known.
func (m Metadata) HasResolution() bool {
	return m.Width > 0 && m.Height > 0
}

// Extract reads capture metadata from raw image bytes. EXIF is optional; an
// image whose header decodes still yields its dimensions.
func Extract(data []byte) (meta Metadata, err error) {
	if len(data) == 0 {
		return Metadata{}, ErrNoMetadata
	}

	x, exifErr := decodeExif(data)
	if exifErr == nil {
		meta = fromExif(x)
	}

	if !meta.HasResolution() {
		if cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(data)); cfgErr == nil {
			meta.Width, meta.Height = cfg.Width, cfg.Height
		} else if exifErr != nil {
			zap.L().Debug("Image metadata unreadable",
				zap.NamedError("exif_error", exifErr),
				zap.NamedError("header_error", cfgErr))
			return Metadata{}, ErrNoMetadata
		}
	}

	return meta, nil
}

// decodeExif guards against decoder panics on malformed TIFF structures.
func decodeExif(data []byte) (x *exif.Exif, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("exif decoder panic: %v", r)
		}
	}()
	return exif.Decode(bytes.NewReader(data))
}

func fromExif(x *exif.Exif) Metadata {
	var meta Metadata

	if t, err := x.DateTime(); err == nil && !t.IsZero() {
		t = t.UTC()
		meta.CaptureTime = &t
	}

	if lat, long, err := x.LatLong(); err == nil {
		meta.HasGPS = true
		meta.Latitude, meta.Longitude = lat, long
	}

	var device []string
	for _, field := range []exif.FieldName{exif.Make, exif.Model} {
		if v := stringTag(x, field); v != "" {
			device = append(device, v)
		}
	}
	meta.Device = strings.Join(device, " ")
	meta.Software = stringTag(x, exif.Software)

	meta.Width = intTag(x, exif.PixelXDimension, exif.ImageWidth)
	meta.Height = intTag(x, exif.PixelYDimension, exif.ImageLength)

	return meta
}

func stringTag(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	v, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(v, "\x00"))
}

func intTag(x *exif.Exif, fields ...exif.FieldName) int {
	for _, field := range fields {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		if v, err := tag.Int(0); err == nil && v > 0 {
			return v
		}
	}
	return 0
}
