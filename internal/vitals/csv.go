package vitals

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParseCSV reads uploads with the header
// heart_rate,blood_pressure,oxygen_level,temperature. Rows that do not parse
// are counted in skipped rather than failing the upload.
func ParseCSV(r io.Reader, patientID uuid.UUID) (readings []Reading, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: empty csv", ErrInvalid)
		}
		return nil, 0, fmt.Errorf("vitals: read csv header: %w", err)
	}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("vitals: read csv: %w", err)
		}
		reading, ok := readingFromRecord(record, patientID)
		if !ok {
			skipped++
			continue
		}
		readings = append(readings, reading)
	}
	return readings, skipped, nil
}

func readingFromRecord(record []string, patientID uuid.UUID) (Reading, bool) {
	if len(record) < 4 {
		return Reading{}, false
	}
	hr, err := strconv.Atoi(strings.TrimSpace(record[0]))
	if err != nil {
		return Reading{}, false
	}
	o2, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil {
		return Reading{}, false
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if err != nil {
		return Reading{}, false
	}
	r := Reading{
		PatientID:     patientID,
		HeartRate:     hr,
		BloodPressure: strings.TrimSpace(record[1]),
		OxygenLevel:   o2,
		Temperature:   temp,
	}
	return r, r.Validate() == nil
}
