package domain

import (
	"errors"
	"fmt"
)

// CalculationErrorKind classifies a failed calculation.
type CalculationErrorKind string

// Calculation failure kinds.
const (
	KindInvalidInput         CalculationErrorKind = "invalid_input"
	KindNoCompatibleDevice   CalculationErrorKind = "no_compatible_device"
	KindVolumeTooLarge       CalculationErrorKind = "volume_too_large"
	KindVolumeTooSmall       CalculationErrorKind = "volume_too_small"
	KindConcentrationTooHigh CalculationErrorKind = "concentration_too_high"
	KindDivisionByZero       CalculationErrorKind = "division_by_zero"
	KindCalculationFailed    CalculationErrorKind = "calculation_failed"
)

// Sentinels for errors.Is matching against a *CalculationError.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoCompatibleDevice   = errors.New("no compatible device")
	ErrVolumeTooLarge       = errors.New("volume too large")
	ErrVolumeTooSmall       = errors.New("volume too small")
	ErrConcentrationTooHigh = errors.New("concentration too high")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrCalculationFailed    = errors.New("calculation failed")
)

var kindSentinels = map[CalculationErrorKind]error{
	KindInvalidInput:         ErrInvalidInput,
	KindNoCompatibleDevice:   ErrNoCompatibleDevice,
	KindVolumeTooLarge:       ErrVolumeTooLarge,
	KindVolumeTooSmall:       ErrVolumeTooSmall,
	KindConcentrationTooHigh: ErrConcentrationTooHigh,
	KindDivisionByZero:       ErrDivisionByZero,
	KindCalculationFailed:    ErrCalculationFailed,
}

// CalculationError reports a calculation the caller must fix by changing
// input. Value carries the offending magnitude (draw volume, concentration,
// or the rejected field value).
type CalculationError struct {
	Kind       CalculationErrorKind
	Field      string
	Value      float64
	Message    string
	Suggestion string
}

func (e *CalculationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s=%g)", e.Kind, e.Message, e.Field, e.Value)
	}
	return fmt.Sprintf("%s: %s (%g)", e.Kind, e.Message, e.Value)
}

// Is matches the sentinel for the error kind.
func (e *CalculationError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// InvalidInput builds a KindInvalidInput error for a field.
func InvalidInput(field string, value float64, message string) *CalculationError {
	return &CalculationError{
		Kind:       KindInvalidInput,
		Field:      field,
		Value:      value,
		Message:    message,
		Suggestion: fmt.Sprintf("check the %s value and try again", field),
	}
}

// VolumeTooLarge reports a draw that exceeds every catalog device.
func VolumeTooLarge(volume float64) *CalculationError {
	return &CalculationError{
		Kind:       KindVolumeTooLarge,
		Field:      "draw_volume_ml",
		Value:      volume,
		Message:    "draw volume exceeds the capacity of every device",
		Suggestion: "use less reconstitution water or split the dose into two injections",
	}
}

// VolumeTooSmall reports a draw below the finest device graduation.
func VolumeTooSmall(volume float64) *CalculationError {
	return &CalculationError{
		Kind:       KindVolumeTooSmall,
		Field:      "draw_volume_ml",
		Value:      volume,
		Message:    "draw volume is below the smallest measurable device increment",
		Suggestion: "add more reconstitution water to dilute the vial",
	}
}

// NoCompatibleDevice reports a draw no catalog device can measure.
func NoCompatibleDevice(volume float64) *CalculationError {
	return &CalculationError{
		Kind:       KindNoCompatibleDevice,
		Field:      "draw_volume_ml",
		Value:      volume,
		Message:    "no device can measure this draw volume",
		Suggestion: "adjust reconstitution volume so the draw lands on a device mark",
	}
}

// ConcentrationTooHigh reports a concentration above the configured ceiling.
func ConcentrationTooHigh(concentration, ceiling float64) *CalculationError {
	return &CalculationError{
		Kind:       KindConcentrationTooHigh,
		Field:      "concentration_mg_per_ml",
		Value:      concentration,
		Message:    fmt.Sprintf("concentration exceeds the %g mg/mL ceiling", ceiling),
		Suggestion: "reconstitute with more water",
	}
}

// DivisionByZero reports a derived divisor that collapsed to zero.
func DivisionByZero(field string) *CalculationError {
	return &CalculationError{
		Kind:       KindDivisionByZero,
		Field:      field,
		Message:    "derived value is zero",
		Suggestion: "check the dosing frequency",
	}
}

// CalculationFailed reports a non-finite intermediate result.
func CalculationFailed(field string, value float64) *CalculationError {
	return &CalculationError{
		Kind:       KindCalculationFailed,
		Field:      field,
		Value:      value,
		Message:    "calculation produced a non-finite value",
		Suggestion: "check that all inputs are within realistic ranges",
	}
}

// AsCalculationError unwraps err into a *CalculationError.
func AsCalculationError(err error) (*CalculationError, bool) {
	var ce *CalculationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
