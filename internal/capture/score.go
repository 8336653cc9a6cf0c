package capture

import (
	"math"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/models"
)

// Weights are expressed in hundredths of confidence so the threshold
// comparison is exact.
const (
	weightCaptureInWindow  = 15
	weightCaptureBackdated = -40
	weightCaptureMissing   = -10
	weightCaptureStale     = -10
	weightCaptureFuture    = -30

	weightGPSPresent = 10
	weightGPSAbsent  = -5

	weightDevicePhone   = 10
	weightDeviceGeneric = 5
	weightDeviceAbsent  = -5

	weightResolutionOK   = 5
	weightResolutionLow  = -20
	weightResolutionHigh = -10

	weightEdited   = -20
	weightUnedited = 5

	// Score used when nothing could be read from the image at all.
	noMetadataScore = 30
)

// Policy holds the business-tunable parts of plausibility scoring.
type Policy struct {
	Baseline                float64
	Threshold               float64
	CaptureWindow           time.Duration
	ClockSkew               time.Duration
	MinDimension            int
	MaxDimension            int
	PhonePatterns           []string
	EditorPatterns          []string
	BackdatedRequiresReview bool
}

func DefaultPolicy() Policy {
	return Policy{
		Baseline:                0.5,
		Threshold:               0.4,
		CaptureWindow:           72 * time.Hour,
		ClockSkew:               5 * time.Minute,
		MinDimension:            200,
		MaxDimension:            8000,
		PhonePatterns:           []string{"iphone", "samsung", "android"},
		EditorPatterns:          []string{"photoshop", "gimp", "lightroom", "paint", "editor"},
		BackdatedRequiresReview: true,
	}
}

// PolicyFromConfig overlays configured thresholds on the default policy.
func PolicyFromConfig(cfg models.PolicyConfig) Policy {
	p := DefaultPolicy()
	p.Baseline = cfg.PlausibilityBaseline
	p.Threshold = cfg.PlausibilityThreshold
	if cfg.CaptureWindow > 0 {
		p.CaptureWindow = cfg.CaptureWindow
	}
	if cfg.ClockSkew >= 0 {
		p.ClockSkew = cfg.ClockSkew
	}
	p.BackdatedRequiresReview = cfg.BackdatedRequiresReview
	return p
}

// Signal is one scored observation.
type Signal struct {
	Name   string
	Delta  int // hundredths
	Reason string
}

type Result struct {
	Valid      bool
	Confidence float64
	Reasons    []string
	Backdated  bool
	Signals    []Signal
}

// Explanation joins the per-signal reasons.
func (r Result) Explanation() string {
	return strings.Join(r.Reasons, " ")
}

// RequiresReview reports whether the result must route to human review.
func (r Result) RequiresReview(p Policy) bool {
	return !r.Valid || (r.Backdated && p.BackdatedRequiresReview)
}

// NoMetadata is the result for an image with nothing extractable.
func NoMetadata() Result {
	return Result{
		Valid:      false,
		Confidence: float64(noMetadataScore) / 100,
		Reasons:    []string{ErrNoMetadata.Error()},
	}
}

// Score is a pure function of the metadata, the participation time and now.
func Score(meta Metadata, participatedAt, now time.Time, p Policy) Result {
	signals := []Signal{
		captureSignal(meta, participatedAt, now, p),
		gpsSignal(meta),
		deviceSignal(meta, p),
	}
	if sig, ok := resolutionSignal(meta, p); ok {
		signals = append(signals, sig)
	}
	signals = append(signals, editSignal(meta, p))

	total := hundredths(p.Baseline)
	reasons := make([]string, 0, len(signals))
	backdated := false
	for _, s := range signals {
		total += s.Delta
		reasons = append(reasons, s.Reason)
		if s.Name == "capture_backdated" {
			backdated = true
		}
	}
	total = max(0, min(100, total))

	return Result{
		Valid:      total >= hundredths(p.Threshold),
		Confidence: float64(total) / 100,
		Reasons:    reasons,
		Backdated:  backdated,
		Signals:    signals,
	}
}

func hundredths(v float64) int {
	return int(math.Round(v * 100))
}

func captureSignal(meta Metadata, participatedAt, now time.Time, p Policy) Signal {
	if meta.CaptureTime == nil {
		return Signal{"capture_missing", weightCaptureMissing, "Capture time is missing."}
	}
	captured := *meta.CaptureTime
	switch {
	case captured.After(now.Add(p.ClockSkew)):
		return Signal{"capture_future", weightCaptureFuture, "Capture time is in the future."}
	case captured.Before(participatedAt):
		return Signal{"capture_backdated", weightCaptureBackdated, "Photo was taken before joining the challenge."}
	case captured.Sub(participatedAt) > p.CaptureWindow:
		return Signal{"capture_stale", weightCaptureStale, "Photo was taken long after joining the challenge."}
	default:
		return Signal{"capture_in_window", weightCaptureInWindow, "Photo was taken shortly after joining the challenge."}
	}
}

func gpsSignal(meta Metadata) Signal {
	if meta.HasGPS {
		return Signal{"gps_present", weightGPSPresent, "GPS location is present."}
	}
	return Signal{"gps_absent", weightGPSAbsent, "GPS location is missing."}
}

func deviceSignal(meta Metadata, p Policy) Signal {
	if meta.Device == "" {
		return Signal{"device_absent", weightDeviceAbsent, "Camera information is missing."}
	}
	if containsAny(meta.Device, p.PhonePatterns) {
		return Signal{"device_phone", weightDevicePhone, "Photo appears to be taken with a smartphone."}
	}
	return Signal{"device_generic", weightDeviceGeneric, "Camera information is present."}
}

// resolutionSignal is skipped when the dimensions are unknown.
func resolutionSignal(meta Metadata, p Policy) (Signal, bool) {
	if !meta.HasResolution() {
		return Signal{}, false
	}
	switch {
	case meta.Width < p.MinDimension || meta.Height < p.MinDimension:
		return Signal{"resolution_low", weightResolutionLow, "Image resolution is too low."}, true
	case meta.Width > p.MaxDimension || meta.Height > p.MaxDimension:
		return Signal{"resolution_high", weightResolutionHigh, "Image resolution is unusually high."}, true
	default:
		return Signal{"resolution_ok", weightResolutionOK, "Image resolution is plausible."}, true
	}
}

func editSignal(meta Metadata, p Policy) Signal {
	if meta.Software != "" && containsAny(meta.Software, p.EditorPatterns) {
		return Signal{"edited", weightEdited, "Image appears to be edited."}
	}
	return Signal{"unedited", weightUnedited, "Image appears to be original."}
}

func containsAny(value string, patterns []string) bool {
	lower := strings.ToLower(value)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
