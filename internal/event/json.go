package event

import "encoding/json"

type recordJSON struct {
	Title          string `json:"title"`
	ProjectName    string `json:"project_name,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	TotalPrize     string `json:"total_prize,omitempty"`
	PrizeBreakdown string `json:"prize_breakdown,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	DurationDays   *int   `json:"duration_days,omitempty"`
	MissionSummary string `json:"mission_summary,omitempty"`
	Location       string `json:"location,omitempty"`
}

// MarshalJSON renders the record with snake_case keys and dates as YYYY-MM-DD.
// Absent values are omitted.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Title:          r.DisplayTitle(),
		ProjectName:    r.ProjectName,
		SourceURL:      r.SourceURL,
		TotalPrize:     r.TotalPrize.String(),
		PrizeBreakdown: r.PrizeBreakdown,
		StartDate:      FormatDate(r.StartDate),
		EndDate:        FormatDate(r.EndDate),
		DurationDays:   r.DurationDays,
		MissionSummary: r.MissionSummary,
		Location:       string(r.Location),
	})
}
