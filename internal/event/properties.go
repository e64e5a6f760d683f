package event

import (
	"strconv"
	"strings"
	"time"
)

// ValueKind is the column type of a stored property.
type ValueKind string

const (
	KindTitle    ValueKind = "title"
	KindRichText ValueKind = "rich_text"
	KindURL      ValueKind = "url"
	KindDate     ValueKind = "date"
	KindNumber   ValueKind = "number"
	KindSelect   ValueKind = "select"
)

// Value is one typed cell. Dates are carried as YYYY-MM-DD text.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
}

func TitleValue(s string) Value    { return Value{Kind: KindTitle, Text: s} }
func RichTextValue(s string) Value { return Value{Kind: KindRichText, Text: s} }
func URLValue(s string) Value      { return Value{Kind: KindURL, Text: s} }
func SelectValue(s string) Value   { return Value{Kind: KindSelect, Text: s} }
func NumberValue(n float64) Value  { return Value{Kind: KindNumber, Number: n} }
func DateValue(d time.Time) Value  { return Value{Kind: KindDate, Text: d.Format(DateLayout)} }

// String renders the value as plain text.
func (v Value) String() string {
	if v.Kind == KindNumber {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return strings.TrimSpace(v.Text)
}

// Properties is a column-name-keyed property map.
type Properties map[string]Value

// Text returns the text of column col, or "".
func (p Properties) Text(col string) string {
	v, ok := p[col]
	if !ok {
		return ""
	}
	return v.String()
}

// Date returns the date stored in column col, or nil.
func (p Properties) Date(col string) *time.Time {
	v, ok := p[col]
	if !ok || v.Kind != KindDate || strings.TrimSpace(v.Text) == "" {
		return nil
	}
	d, err := ParseDate(v.Text)
	if err != nil {
		return nil
	}
	return &d
}

// Number returns the number stored in column col.
func (p Properties) Number(col string) (float64, bool) {
	v, ok := p[col]
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

// Stored is one existing row in the record store.
type Stored struct {
	ID         string
	Properties Properties
}

// Page is one page of a store query.
type Page struct {
	Records    []Stored
	HasMore    bool
	NextCursor string
}

// Columns names the store column each record field is written to.
type Columns struct {
	Title          string `yaml:"title" json:"title"`
	ProjectName    string `yaml:"project_name" json:"project_name"`
	SourceURL      string `yaml:"source_url" json:"source_url"`
	TotalPrize     string `yaml:"total_prize" json:"total_prize"`
	PrizeBreakdown string `yaml:"prize_breakdown" json:"prize_breakdown"`
	StartDate      string `yaml:"start_date" json:"start_date"`
	EndDate        string `yaml:"end_date" json:"end_date"`
	DurationDays   string `yaml:"duration_days" json:"duration_days"`
	MissionSummary string `yaml:"mission_summary" json:"mission_summary"`
	Location       string `yaml:"location" json:"location"`
}

// DefaultColumns returns the column names of the production database.
func DefaultColumns() Columns {
	return Columns{
		Title:          "이벤트 제목",
		ProjectName:    "프로젝트명",
		SourceURL:      "원본 링크",
		TotalPrize:     "총 상금",
		PrizeBreakdown: "회차별 상금",
		StartDate:      "이벤트 시작일",
		EndDate:        "이벤트 종료일",
		DurationDays:   "이벤트 진행 기간",
		MissionSummary: "미션 내용",
		Location:       "장소",
	}
}

// WithDefaults fills empty names from DefaultColumns.
func (c Columns) WithDefaults() Columns {
	d := DefaultColumns()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&c.Title, d.Title)
	fill(&c.ProjectName, d.ProjectName)
	fill(&c.SourceURL, d.SourceURL)
	fill(&c.TotalPrize, d.TotalPrize)
	fill(&c.PrizeBreakdown, d.PrizeBreakdown)
	fill(&c.StartDate, d.StartDate)
	fill(&c.EndDate, d.EndDate)
	fill(&c.DurationDays, d.DurationDays)
	fill(&c.MissionSummary, d.MissionSummary)
	fill(&c.Location, d.Location)
	return c
}

// Kinds maps each configured column to the value kind written to it.
func (c Columns) Kinds() map[string]ValueKind {
	return map[string]ValueKind{
		c.Title:          KindTitle,
		c.ProjectName:    KindRichText,
		c.SourceURL:      KindURL,
		c.TotalPrize:     KindRichText,
		c.PrizeBreakdown: KindRichText,
		c.StartDate:      KindDate,
		c.EndDate:        KindDate,
		c.DurationDays:   KindNumber,
		c.MissionSummary: KindRichText,
		c.Location:       KindSelect,
	}
}

// Decode rebuilds a Record from stored properties.
func (c Columns) Decode(p Properties) Record {
	rec := Record{
		Title:          p.Text(c.Title),
		ProjectName:    p.Text(c.ProjectName),
		SourceURL:      p.Text(c.SourceURL),
		PrizeBreakdown: p.Text(c.PrizeBreakdown),
		StartDate:      p.Date(c.StartDate),
		EndDate:        p.Date(c.EndDate),
		MissionSummary: p.Text(c.MissionSummary),
		Location:       Location(p.Text(c.Location)),
	}
	switch prize := p.Text(c.TotalPrize); {
	case prize == UniformPrizeMarker:
		rec.TotalPrize = UniformPrize()
	case prize != "":
		rec.TotalPrize = StatedPrize(prize)
	}
	if n, ok := p.Number(c.DurationDays); ok && n > 0 {
		d := int(n)
		rec.DurationDays = &d
	}
	return rec
}
