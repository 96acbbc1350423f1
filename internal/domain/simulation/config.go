package simulation

import (
	"fmt"

	"github.com/releaseguard/backend/internal/domain/shared"
)

// Config is the immutable per-session input that drives one simulation run.
// JSON field names are part of the public API and shared with the UI.
//
// The metric toggles are pointers so that a missing field is a bind error
// rather than a silent false; only JSON true/false are accepted, never the
// string or numeric lookalikes the first runner version tolerated.
type Config struct {
	SDKKey     string `json:"sdk_key" binding:"required"`
	APIKey     string `json:"api_key" binding:"required"`
	ProjectKey string `json:"project_key" binding:"required"`
	FlagKey    string `json:"flag_key" binding:"required"`

	LatencyMetric  string `json:"latency_metric_1" binding:"required"`
	ErrorMetric    string `json:"error_metric_1" binding:"required"`
	BusinessMetric string `json:"business_metric_1" binding:"required"`

	LatencyMetricEnabled  *bool `json:"latency_metric_1_enabled" binding:"required"`
	ErrorMetricEnabled    *bool `json:"error_metric_1_enabled" binding:"required"`
	BusinessMetricEnabled *bool `json:"business_metric_1_enabled" binding:"required"`

	LatencyFalseRange []int `json:"latency_metric_1_false_range" binding:"required,len=2,dive,gte=0"`
	LatencyTrueRange  []int `json:"latency_metric_1_true_range" binding:"required,len=2,dive,gte=0"`

	ErrorFalseConverted    int `json:"error_metric_1_false_converted" binding:"gte=0,lte=100"`
	ErrorTrueConverted     int `json:"error_metric_1_true_converted" binding:"gte=0,lte=100"`
	BusinessFalseConverted int `json:"business_metric_1_false_converted" binding:"gte=0,lte=100"`
	BusinessTrueConverted  int `json:"business_metric_1_true_converted" binding:"gte=0,lte=100"`

	// EvaluationsPerSecond caps loop throughput; zero means "use the
	// server default".
	EvaluationsPerSecond float64 `json:"evaluations_per_second" binding:"omitempty,gte=1,lte=1000"`
}

// DefaultEvaluationsPerSecond is applied when the caller leaves the rate
// unset. It matches the legacy fixed 50ms inter-event pause.
const DefaultEvaluationsPerSecond = 20

// Validate checks the cross-field constraints binding tags cannot express.
// It must pass before any session state is touched.
func (c *Config) Validate() error {
	if err := validateRange("latency_metric_1_false_range", c.LatencyFalseRange); err != nil {
		return err
	}
	if err := validateRange("latency_metric_1_true_range", c.LatencyTrueRange); err != nil {
		return err
	}
	for name, v := range map[string]int{
		"error_metric_1_false_converted":    c.ErrorFalseConverted,
		"error_metric_1_true_converted":     c.ErrorTrueConverted,
		"business_metric_1_false_converted": c.BusinessFalseConverted,
		"business_metric_1_true_converted":  c.BusinessTrueConverted,
	} {
		if v < 0 || v > 100 {
			return shared.NewDomainError("INVALID_PERCENTAGE",
				fmt.Sprintf("%s must be between 0 and 100", name))
		}
	}
	if c.LatencyMetricEnabled == nil || c.ErrorMetricEnabled == nil || c.BusinessMetricEnabled == nil {
		return shared.NewDomainError("MISSING_TOGGLE", "Metric enabled toggles must be explicit booleans")
	}
	if c.EvaluationsPerSecond < 0 || c.EvaluationsPerSecond > 1000 {
		return shared.NewDomainError("INVALID_RATE", "evaluations_per_second must be between 1 and 1000")
	}
	return nil
}

// ApplyDefaults fills optional fields. Call after Validate.
func (c *Config) ApplyDefaults() {
	if c.EvaluationsPerSecond == 0 {
		c.EvaluationsPerSecond = DefaultEvaluationsPerSecond
	}
}

// LatencyEnabled reports the latency metric toggle; nil is treated as off.
func (c *Config) LatencyEnabled() bool {
	return c.LatencyMetricEnabled != nil && *c.LatencyMetricEnabled
}

// ErrorEnabled reports the error metric toggle; nil is treated as off.
func (c *Config) ErrorEnabled() bool {
	return c.ErrorMetricEnabled != nil && *c.ErrorMetricEnabled
}

// BusinessEnabled reports the business metric toggle; nil is treated as off.
func (c *Config) BusinessEnabled() bool {
	return c.BusinessMetricEnabled != nil && *c.BusinessMetricEnabled
}

// LatencyRange returns the configured [lo, hi] for the given variant.
func (c *Config) LatencyRange(treatment bool) (lo, hi int) {
	r := c.LatencyFalseRange
	if treatment {
		r = c.LatencyTrueRange
	}
	return r[0], r[1]
}

// ErrorConverted returns the error conversion percentage for the variant.
func (c *Config) ErrorConverted(treatment bool) int {
	if treatment {
		return c.ErrorTrueConverted
	}
	return c.ErrorFalseConverted
}

// BusinessConverted returns the business conversion percentage for the variant.
func (c *Config) BusinessConverted(treatment bool) int {
	if treatment {
		return c.BusinessTrueConverted
	}
	return c.BusinessFalseConverted
}

func validateRange(name string, r []int) error {
	if len(r) != 2 {
		return shared.NewDomainError("INVALID_RANGE",
			fmt.Sprintf("%s must hold exactly two integers", name))
	}
	if r[0] > r[1] {
		return shared.NewDomainError("INVALID_RANGE",
			fmt.Sprintf("%s must have first value <= second value", name))
	}
	if r[0] < 0 {
		return shared.NewDomainError("INVALID_RANGE",
			fmt.Sprintf("%s must not be negative", name))
	}
	return nil
}
