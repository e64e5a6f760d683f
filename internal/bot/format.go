package bot

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/ingest"
)

// Fixed replies.
const (
	ProcessingText = "🔄 분석 중..."
	FailureText    = "❌ 저장 실패"
	SkippedText    = "⚠️ 분석 실패: 저장하지 않았습니다"

	HelpText = "🤖 이벤트 분석 봇 v3.0\n\n" +
		"📤 채널 게시물을 포워딩하거나 링크를 보내세요!\n" +
		"🤖 AI가 자동 분석\n" +
		"📊 Notion에 저장\n\n" +
		"✨ 주요 기능:\n" +
		"- 이벤트 제목/미션 자동 생성\n" +
		"- 시작일/종료일 자동 계산\n" +
		"- 총 상금 조건부 표시\n" +
		"- 회차별 상금 상세 분석\n" +
		"- 중복 이벤트 확인\n" +
		"- 상금 가치는 수동 입력"
)

const na = "N/A"

// Reply renders the final text for an outcome.
func Reply(out ingest.Outcome) string {
	switch out.Kind {
	case ingest.OutcomeSaved:
		return FormatSaved(out.Record, out.SourceURL)
	case ingest.OutcomeDuplicate:
		return FormatDuplicate(out.Record)
	case ingest.OutcomeSkipped:
		return SkippedText
	default:
		return FailureText
	}
}

// FormatSaved summarizes a stored event.
func FormatSaved(rec event.Record, sourceURL string) string {
	duration := na
	if rec.DurationDays != nil {
		duration = fmt.Sprintf("%d일", *rec.DurationDays)
	}
	mission := orNA(rec.MissionSummary)
	if len([]rune(mission)) > 80 {
		mission = event.Truncate(mission, 80) + "..."
	}

	var b strings.Builder
	b.WriteString("✅ 분석 완료!\n\n")
	fmt.Fprintf(&b, "📋 이벤트: %s\n", rec.DisplayTitle())
	fmt.Fprintf(&b, "🏢 프로젝트: %s\n", orNA(rec.ProjectName))
	fmt.Fprintf(&b, "💰 총 상금: %s\n", orNA(rec.TotalPrize.String()))
	fmt.Fprintf(&b, "🎁 회차별: %s...\n", event.Truncate(orNA(rec.PrizeBreakdown), 60))
	fmt.Fprintf(&b, "📅 시작: %s\n", orNA(event.FormatDate(rec.StartDate)))
	fmt.Fprintf(&b, "🏁 종료: %s\n", orNA(event.FormatDate(rec.EndDate)))
	fmt.Fprintf(&b, "⏱️ 기간: %s\n", duration)
	fmt.Fprintf(&b, "🎯 미션: %s\n", mission)
	b.WriteString("💵 가치: 수동 입력 필요")
	if u := event.NormalizeURL(sourceURL); u != "" {
		fmt.Fprintf(&b, "\n🔗 %s", u)
	}
	return b.String()
}

// FormatDuplicate tells the user the event is already registered.
func FormatDuplicate(rec event.Record) string {
	return "⚠️ 사전에 등록 된 이벤트 입니다.\n\n" +
		fmt.Sprintf("📋 이벤트: %s\n", rec.DisplayTitle()) +
		fmt.Sprintf("🏢 프로젝트: %s\n", orNA(rec.ProjectName)) +
		fmt.Sprintf("📅 시작일: %s", orNA(event.FormatDate(rec.StartDate)))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return na
	}
	return s
}
