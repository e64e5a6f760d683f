// Package event defines the event record extracted from chat posts and the
// column-keyed property map the record store accepts.
package event

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayout is the calendar date format used by the extractor and the store.
const DateLayout = "2006-01-02"

// Field length limits applied before a record is persisted.
const (
	MaxTitleLen = 100
	MaxTextLen  = 2000
	MaxURLLen   = 2000
)

// Fixed literals shared by the extractor, the store mapping and the bot replies.
const (
	FallbackTitle       = "미확인"
	AnalysisFailedTitle = "분석 실패"
	UniformPrizeMarker  = "총 상금 통일"

	NoURL          = "URL 없음"
	PrivateChannel = "비공개 채널"
	PrivateMessage = "개인 메시지 (링크 없음)"
)

// PrizeKind distinguishes an absent total prize from a stated amount and from
// the uniform marker.
type PrizeKind int

const (
	PrizeUnknown PrizeKind = iota
	PrizeStated
	PrizeUniform
)

// Prize is the total prize description of an event.
type Prize struct {
	Kind PrizeKind
	Text string
}

// StatedPrize returns a prize with an explicit amount.
func StatedPrize(text string) Prize {
	text = strings.TrimSpace(text)
	if text == "" {
		return Prize{}
	}
	return Prize{Kind: PrizeStated, Text: text}
}

// UniformPrize returns the "single pool, not itemized" prize.
func UniformPrize() Prize {
	return Prize{Kind: PrizeUniform, Text: UniformPrizeMarker}
}

// String renders the prize the way it is written to the store.
func (p Prize) String() string {
	switch p.Kind {
	case PrizeStated:
		return p.Text
	case PrizeUniform:
		return UniformPrizeMarker
	default:
		return ""
	}
}

// Location is the online/offline classification written by the location backfill.
type Location string

const (
	LocationUnknown Location = ""
	LocationOnline  Location = "온라인"
	LocationOffline Location = "오프라인"
)

// Record is a normalized event. Empty strings and nil pointers mean the value
// is absent; sentinel literals never survive normalization.
type Record struct {
	Title          string
	ProjectName    string
	SourceURL      string
	TotalPrize     Prize
	PrizeBreakdown string
	StartDate      *time.Time
	EndDate        *time.Time
	DurationDays   *int
	MissionSummary string
	Location       Location
}

// DisplayTitle returns the title or the fallback literal when it is empty.
func (r Record) DisplayTitle() string {
	if strings.TrimSpace(r.Title) == "" {
		return FallbackTitle
	}
	return r.Title
}

// FillEndDate derives EndDate from StartDate and DurationDays when EndDate is
// missing. It reports whether a value was derived.
func (r *Record) FillEndDate() bool {
	if r.EndDate != nil || r.StartDate == nil || r.DurationDays == nil {
		return false
	}
	end := r.StartDate.AddDate(0, 0, *r.DurationDays)
	r.EndDate = &end
	return true
}

// FormatDate renders d as YYYY-MM-DD, or "" when d is nil.
func FormatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD value. Longer ISO timestamps are cut to their
// date part.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) && s[len(DateLayout)] == 'T' {
		s = s[:len(DateLayout)]
	}
	return time.Parse(DateLayout, s)
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

var unknownValues = map[string]bool{
	"":        true,
	"n/a":     true,
	"none":    true,
	"null":    true,
	"nil":     true,
	"미확인":     true,
	"unknown": true,
}

// IsUnknown reports whether s is a sentinel standing in for a missing value.
func IsUnknown(s string) bool {
	return unknownValues[strings.ToLower(strings.TrimSpace(s))]
}

var urlRE = regexp.MustCompile(`https?://\S+`)

// FirstURL returns the first http(s) URL in text, or "" when there is none.
// A URL glued to preceding text, as in "링크:https://x", is still found.
func FirstURL(text string) string {
	return urlRE.FindString(text)
}

// NormalizeURL returns the URL when it is usable as a record identity, or ""
// for sentinels and non-HTTP values.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch u {
	case NoURL, PrivateChannel, PrivateMessage:
		return ""
	}
	if IsUnknown(u) {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ""
	}
	return u
}
