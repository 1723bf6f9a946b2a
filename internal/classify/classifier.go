package classify

import (
	"log/slog"

	"github.com/qualitystack/quality-core/internal/models"
)

// Classifier applies underperformance thresholds to weekly summaries.
// Classification itself is a pure function; the classifier only adds the
// per-unit threshold table with its documented defaults.
type Classifier struct {
	defaults models.Thresholds
	perUnit  map[string]models.Thresholds
	logger   *slog.Logger
}

// NewClassifier builds a classifier with the default thresholds and an
// optional per-unit override table.
func NewClassifier(defaults models.Thresholds, perUnit map[string]models.Thresholds, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{defaults: defaults, perUnit: perUnit, logger: logger}
}

// ThresholdsFor resolves the thresholds for an organizational unit. A
// missing or zero-valued entry fails closed to the defaults: a zero
// threshold would flag nobody and make every agent look perfect.
func (c *Classifier) ThresholdsFor(unit string) models.Thresholds {
	th, ok := c.perUnit[unit]
	if !ok {
		return c.defaults
	}
	if th.AttitudeRate <= 0 || th.OperationalRate <= 0 {
		c.logger.Warn("incomplete thresholds for unit, using defaults", slog.String("unit", unit))
		return c.defaults
	}
	return th
}

// Classify compares a summary against thresholds. Strict greater-than:
// a rate exactly equal to its threshold is compliant.
func Classify(summary models.WeeklyMetricSummary, th models.Thresholds) models.UnderperformanceFlag {
	attitudeOver := summary.AttitudeRate > th.AttitudeRate
	operationalOver := summary.OperationalRate > th.OperationalRate
	return models.UnderperformanceFlag{
		AgentID:         summary.AgentID,
		PeriodKey:       summary.Period.Key(),
		Flagged:         attitudeOver || operationalOver,
		AttitudeOver:    attitudeOver,
		OperationalOver: operationalOver,
	}
}

// ClassifyForUnit classifies using the thresholds in effect for unit.
func (c *Classifier) ClassifyForUnit(summary models.WeeklyMetricSummary, unit string) models.UnderperformanceFlag {
	return Classify(summary, c.ThresholdsFor(unit))
}
