package weather

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Reason explains why a record was rejected.
type Reason string

const (
	ReasonMissingField          Reason = "MissingField"
	ReasonHumidityOutOfRange    Reason = "HumidityOutOfRange"
	ReasonNegativeWindSpeed     Reason = "NegativeWindSpeed"
	ReasonTemperatureOutOfRange Reason = "TemperatureOutOfRange"
	ReasonPressureOutOfRange    Reason = "PressureOutOfRange"
	ReasonTimestampInFuture     Reason = "TimestampInFuture"
)

// reasonPriority orders reasons when a record breaks several rules.
var reasonPriority = []Reason{
	ReasonMissingField,
	ReasonHumidityOutOfRange,
	ReasonNegativeWindSpeed,
	ReasonTemperatureOutOfRange,
	ReasonPressureOutOfRange,
	ReasonTimestampInFuture,
}

// Verdict is the validator's decision for one record.
// For accepted records, Record is the normalized copy that should be written.
type Verdict struct {
	Accepted bool
	Record   Record
	Reason   Reason
}

func Accepted(rec Record) Verdict { return Verdict{Accepted: true, Record: rec} }

func Rejected(rec Record, reason Reason) Verdict {
	return Verdict{Record: rec, Reason: reason}
}

// Rules are the configurable bands of the validator.
type Rules struct {
	TempMinC    float64
	TempMaxC    float64
	PressureMin int
	PressureMax int
	MaxSkew     time.Duration
}

// DefaultRules mirrors the plausibility bands used in production.
func DefaultRules() Rules {
	return Rules{
		TempMinC:    -90,
		TempMaxC:    60,
		PressureMin: 800,
		PressureMax: 1200,
		MaxSkew:     time.Hour,
	}
}

// Validator applies Rules to records. It has no side effects; the clock is
// the only input besides the record.
type Validator struct {
	rules    Rules
	now      func() time.Time
	validate *validator.Validate
}

// NewValidator creates a Validator. A nil now defaults to time.Now.
func NewValidator(rules Rules, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		rules:    rules,
		now:      now,
		validate: validator.New(),
	}
}

// Validate returns exactly one verdict for rec. rec itself is never modified.
func (v *Validator) Validate(rec Record) Verdict {
	normalized := normalize(rec)

	failed := make(map[Reason]bool)
	for _, r := range v.tagReasons(normalized) {
		failed[r] = true
	}
	if normalized.ObservedAt.IsZero() {
		failed[ReasonMissingField] = true
	}

	if tempC, ok := normalized.TemperatureC(); ok {
		if math.IsNaN(tempC) || tempC < v.rules.TempMinC || tempC > v.rules.TempMaxC {
			failed[ReasonTemperatureOutOfRange] = true
		}
	}
	if normalized.Pressure < v.rules.PressureMin || normalized.Pressure > v.rules.PressureMax {
		failed[ReasonPressureOutOfRange] = true
	}
	if !normalized.ObservedAt.IsZero() && normalized.ObservedAt.After(v.now().Add(v.rules.MaxSkew)) {
		failed[ReasonTimestampInFuture] = true
	}

	for _, reason := range reasonPriority {
		if failed[reason] {
			return Rejected(rec, reason)
		}
	}
	return Accepted(normalized)
}

// tagReasons maps struct-tag failures on Record to rejection reasons.
func (v *Validator) tagReasons(rec Record) []Reason {
	err := v.validate.Struct(rec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Reason{ReasonMissingField}
	}

	reasons := make([]Reason, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "City", "Temperature":
			reasons = append(reasons, ReasonMissingField)
		case "Humidity":
			reasons = append(reasons, ReasonHumidityOutOfRange)
		case "WindSpeed":
			reasons = append(reasons, ReasonNegativeWindSpeed)
		}
	}
	return reasons
}

// normalize returns the corrected copy of rec: trimmed names and a UTC timestamp.
func normalize(rec Record) Record {
	out := rec
	out.City = strings.TrimSpace(rec.City)
	out.Country = strings.TrimSpace(rec.Country)
	if !rec.ObservedAt.IsZero() {
		out.ObservedAt = rec.ObservedAt.UTC()
	}
	if rec.Temperature != nil {
		out.Temperature = Float(*rec.Temperature)
	}
	return out
}
