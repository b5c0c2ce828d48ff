// Package vitals stores patient vital-sign readings and turns them into
// per-kind series.
package vitals

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names one measured vital.
type Kind string

const (
	KindHeartRate     Kind = "heart_rate"
	KindOxygenLevel   Kind = "oxygen_level"
	KindTemperature   Kind = "temperature"
	KindBloodPressure Kind = "blood_pressure"
)

// ErrInvalid marks a malformed reading or an unknown kind.
var ErrInvalid = errors.New("vitals: invalid input")

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindHeartRate, KindOxygenLevel, KindTemperature, KindBloodPressure:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown vital %q", ErrInvalid, s)
}

// Reading is one upload. BloodPressure keeps the "systolic/diastolic" text.
type Reading struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	HeartRate     int       `json:"heart_rate"`
	OxygenLevel   int       `json:"oxygen_level"`
	Temperature   float64   `json:"temperature"`
	BloodPressure string    `json:"blood_pressure"`
	RecordedAt    time.Time `json:"recorded_at"`
}

func (r Reading) Validate() error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id required", ErrInvalid)
	}
	if r.HeartRate <= 0 || r.OxygenLevel <= 0 || r.Temperature <= 0 {
		return fmt.Errorf("%w: heart_rate, oxygen_level and temperature must be positive", ErrInvalid)
	}
	if _, _, err := ParseBloodPressure(r.BloodPressure); err != nil {
		return err
	}
	return nil
}

// Abnormal reports whether any value falls outside the resting adult range.
// A reading with an unreadable blood pressure is never flagged.
func (r Reading) Abnormal() bool {
	sys, dia, err := ParseBloodPressure(r.BloodPressure)
	if err != nil {
		return false
	}
	return r.HeartRate < 60 || r.HeartRate > 100 ||
		sys < 90 || sys > 140 ||
		dia < 60 || dia > 90 ||
		r.OxygenLevel < 95 ||
		r.Temperature < 97.0 || r.Temperature > 99.5
}

// ParseBloodPressure splits "120/80" into its two integers.
func ParseBloodPressure(s string) (systolic, diastolic int, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: blood pressure %q is not systolic/diastolic", ErrInvalid, s)
	}
	if systolic, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, fmt.Errorf("%w: systolic %q", ErrInvalid, parts[0])
	}
	if diastolic, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, fmt.Errorf("%w: diastolic %q", ErrInvalid, parts[1])
	}
	return systolic, diastolic, nil
}

// Point is one sample. Diastolic is set only for blood pressure, where Value is systolic.
type Point struct {
	Value      float64   `json:"value"`
	Diastolic  float64   `json:"diastolic,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Series is the trend of one vital over time.
type Series struct {
	Kind   Kind    `json:"kind"`
	Points []Point `json:"points"`
}

// BuildSeries projects readings onto one kind, in the order given. Readings
// whose blood pressure cannot be parsed are left out of that series.
func BuildSeries(kind Kind, readings []Reading) Series {
	s := Series{Kind: kind, Points: make([]Point, 0, len(readings))}
	for _, r := range readings {
		p := Point{RecordedAt: r.RecordedAt}
		switch kind {
		case KindHeartRate:
			p.Value = float64(r.HeartRate)
		case KindOxygenLevel:
			p.Value = float64(r.OxygenLevel)
		case KindTemperature:
			p.Value = r.Temperature
		case KindBloodPressure:
			sys, dia, err := ParseBloodPressure(r.BloodPressure)
			if err != nil {
				continue
			}
			p.Value, p.Diastolic = float64(sys), float64(dia)
		default:
			continue
		}
		s.Points = append(s.Points, p)
	}
	return s
}
