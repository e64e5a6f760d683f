package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Fields is the flat mapping the language model returns. Every value is kept
// as text so that numbers, strings and nulls all decode.
type Fields struct {
	Title          FlexString `json:"title"`
	ProjectName    FlexString `json:"project_name"`
	TotalPrize     FlexString `json:"total_prize"`
	PrizeBreakdown FlexString `json:"prize_breakdown"`
	StartDate      FlexString `json:"start_date"`
	EndDate        FlexString `json:"end_date"`
	DurationDays   FlexString `json:"duration_days"`
	MissionSummary FlexString `json:"mission_summary"`
}

// FallbackFields is the mapping used when extraction fails: every field is
// unknown and the title says the analysis failed.
func FallbackFields() Fields {
	return Fields{
		Title:          AnalysisFailedTitle,
		ProjectName:    FallbackTitle,
		TotalPrize:     "N/A",
		PrizeBreakdown: "N/A",
		MissionSummary: "N/A",
	}
}

// FlexString decodes any JSON value into its text form. null becomes "",
// arrays are joined with ", " and objects keep their compact JSON text.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	switch b[0] {
	case '[':
		var items []FlexString
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if s := it.String(); s != "" {
				parts = append(parts, s)
			}
		}
		*f = FlexString(strings.Join(parts, ", "))
		return nil
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, b); err != nil {
			return err
		}
		*f = FlexString(buf.String())
		return nil
	}
	*f = FlexString(string(b))
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

// FieldError describes a value that could not be coerced and was dropped.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: cannot use %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Normalize converts the raw mapping into a Record. Values that fail
// coercion are dropped and reported; they never make the record invalid.
func Normalize(f Fields) (Record, []error) {
	var issues []error
	rec := Record{
		Title:          textOrEmpty(f.Title.String()),
		ProjectName:    textOrEmpty(f.ProjectName.String()),
		PrizeBreakdown: textOrEmpty(f.PrizeBreakdown.String()),
		MissionSummary: textOrEmpty(f.MissionSummary.String()),
	}

	prize := f.TotalPrize.String()
	switch {
	case prize == UniformPrizeMarker:
		rec.TotalPrize = UniformPrize()
	case !IsUnknown(prize):
		rec.TotalPrize = StatedPrize(prize)
	}

	if v := f.StartDate.String(); !IsUnknown(v) {
		d, err := ParseDate(v)
		if err != nil {
			issues = append(issues, &FieldError{Field: "start_date", Value: v, Err: err})
		} else {
			rec.StartDate = &d
		}
	}
	if v := f.EndDate.String(); !IsUnknown(v) {
		d, err := ParseDate(v)
		if err != nil {
			issues = append(issues, &FieldError{Field: "end_date", Value: v, Err: err})
		} else {
			rec.EndDate = &d
		}
	}
	if v := f.DurationDays.String(); !IsUnknown(v) {
		n, err := ParseDuration(v)
		switch {
		case err != nil:
			issues = append(issues, &FieldError{Field: "duration_days", Value: v, Err: err})
		case n > 0:
			rec.DurationDays = &n
		}
	}

	rec.FillEndDate()
	return rec, issues
}

// ParseDuration coerces a day count. Integral floats ("7.0") are accepted;
// negatives and fractions are not.
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration")
		}
		return n, nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if fl < 0 || fl != math.Trunc(fl) || fl > math.MaxInt32 {
		return 0, fmt.Errorf("not a whole day count")
	}
	return int(fl), nil
}

func textOrEmpty(s string) string {
	if IsUnknown(s) {
		return ""
	}
	return s
}
