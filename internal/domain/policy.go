package domain

// TriggerMode decides when an incorrect answer opens a remediation discussion.
type TriggerMode string

const (
	TriggerAlways              TriggerMode = "always"
	TriggerConfidenceThreshold TriggerMode = "confidence_at_or_above_threshold"
	TriggerNever               TriggerMode = "never"
)

const (
	MinConfidence = 0
	MaxConfidence = 100
)

// RemediationPolicy configures the post-answer remediation offer.
type RemediationPolicy struct {
	Trigger             TriggerMode `json:"trigger"`
	ConfidenceThreshold int         `json:"confidence_threshold"`
	// RequireBeforeAdvance blocks a self-paced learner until remediation succeeds.
	RequireBeforeAdvance bool `json:"require_before_advance"`
	// MaxFailedAttempts lets a blocked learner move on after that many failed
	// remediation attempts. Zero keeps the block until remediation succeeds.
	MaxFailedAttempts int `json:"max_failed_attempts"`
}

// ShouldOffer evaluates the trigger against a settled answer and the confidence recorded at confirm time.
func (p RemediationPolicy) ShouldOffer(correct bool, confidence int) bool {
	if correct {
		return false
	}
	switch p.Trigger {
	case TriggerAlways:
		return true
	case TriggerConfidenceThreshold:
		return confidence >= p.ConfidenceThreshold
	default:
		return false
	}
}

// ValidConfidence reports whether c is on the accepted scale.
func ValidConfidence(c int) bool {
	return c >= MinConfidence && c <= MaxConfidence
}

// CanRetry reports whether a settled answer may be replaced by a new attempt,
// given how many attempts have already settled for the question.
func (p RetryPolicy) CanRetry(settled int) bool {
	if !p.AllowRetry {
		return false
	}
	return p.MaxAttempts == 0 || settled < p.MaxAttempts
}
