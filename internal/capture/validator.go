package capture

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Validator extracts metadata from image bytes and scores it against a
// policy. It holds no mutable state and is safe for concurrent use.
type Validator struct {
	policy Policy
}

func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate never fails; unreadable images produce a low, invalid result.
func (v *Validator) Validate(data []byte, participatedAt, now time.Time) Result {
	meta, err := Extract(data)
	if err != nil {
		if !errors.Is(err, ErrNoMetadata) {
			zap.L().Warn("Metadata extraction failed", zap.Error(err))
		}
		return NoMetadata()
	}

	result := Score(meta, participatedAt, now, v.policy)

	zap.L().Debug("Capture plausibility scored",
		zap.Float64("confidence", result.Confidence),
		zap.Bool("valid", result.Valid),
		zap.Bool("backdated", result.Backdated),
		zap.Int("signals", len(result.Signals)))

	return result
}
