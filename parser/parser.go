// Package parser turns a raw usage export into readings.
//
// The portal exports Green Button style CSV: a preamble of account details,
// a header row, then one row per interval:
//
//	Name,JANE DOE
//	Account Number,1234
//
//	TYPE,DATE,START TIME,END TIME,USAGE,UNITS,NOTES
//	Electric usage,2023-01-02,00:00,00:59,0.52,kWh,
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roessland/wattwich/calendar"
)

var ErrNoHeader = errors.New("usage header row not found")

// Reading is one metered interval.
type Reading struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	KWh   float64   `json:"kwh"`
}

// SampleSet holds the readings for one day.
type SampleSet struct {
	Day      calendar.Date `json:"day"`
	Readings []Reading     `json:"readings"`
}

func (s SampleSet) Len() int {
	return len(s.Readings)
}

// Total returns the day's consumption in kWh.
func (s SampleSet) Total() float64 {
	var total float64
	for _, r := range s.Readings {
		total += r.KWh
	}
	return total
}

var requiredColumns = []string{"TYPE", "DATE", "START TIME", "END TIME", "USAGE"}

// Parser parses CSV exports. Timestamps are interpreted in Location.
type Parser struct {
	Location *time.Location
}

// New returns a parser for timestamps in loc, or local time if loc is nil.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{Location: loc}
}

// Parse extracts the readings belonging to day. An export without any rows
// for day yields an empty set, which means the day is not final upstream.
func (p *Parser) Parse(day calendar.Date, payload []byte) (SampleSet, error) {
	set := SampleSet{Day: day}

	r := csv.NewReader(bytes.NewReader(payload))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var columns map[string]int
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return SampleSet{}, fmt.Errorf("failed to read usage csv: %w", err)
		}

		if columns == nil {
			columns = headerColumns(record)
			continue
		}

		reading, ok, err := p.parseRow(record, columns, day)
		if err != nil {
			return SampleSet{}, err
		}
		if ok {
			set.Readings = append(set.Readings, reading)
		}
	}

	if columns == nil {
		return SampleSet{}, ErrNoHeader
	}
	return set, nil
}

// headerColumns returns column indexes if record is the header row, else nil.
func headerColumns(record []string) map[string]int {
	columns := make(map[string]int, len(record))
	for i, field := range record {
		columns[strings.ToUpper(strings.TrimSpace(field))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil
		}
	}
	return columns
}

func (p *Parser) parseRow(record []string, columns map[string]int, day calendar.Date) (Reading, bool, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	if field("DATE") == "" && field("USAGE") == "" {
		return Reading{}, false, nil
	}
	if !strings.Contains(strings.ToLower(field("TYPE")), "usage") {
		return Reading{}, false, nil
	}

	date, err := calendar.Parse(field("DATE"))
	if err != nil {
		return Reading{}, false, fmt.Errorf("bad usage row %v: %w", record, err)
	}
	if date != day {
		return Reading{}, false, nil
	}

	start, err := p.clock(date, field("START TIME"))
	if err != nil {
		return Reading{}, false, fmt.Errorf("bad start time in row %v: %w", record, err)
	}
	end, err := p.clock(date, field("END TIME"))
	if err != nil {
		return Reading{}, false, fmt.Errorf("bad end time in row %v: %w", record, err)
	}

	kwh, err := strconv.ParseFloat(field("USAGE"), 64)
	if err != nil {
		return Reading{}, false, fmt.Errorf("bad usage value in row %v: %w", record, err)
	}
	if units := field("UNITS"); units != "" && strings.EqualFold(units, "wh") {
		kwh /= 1000
	}

	return Reading{Start: start, End: end, KWh: kwh}, true, nil
}

func (p *Parser) clock(date calendar.Date, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year, date.Month, date.Day, t.Hour(), t.Minute(), 0, 0, p.Location), nil
}
