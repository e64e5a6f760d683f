package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/eventbot/internal/event"
)

// eventPromptTemplate is filled with the current month and the message text.
const eventPromptTemplate = `다음은 크립토/블록체인 이벤트 메시지입니다.

<메시지>
%s
</메시지>

이벤트 정보를 정확히 추출하여 JSON으로만 응답하세요:

{
  "title": "이벤트 제목 (프로젝트명 + 핵심 내용, 예: PlayKami 신년맞이 이벤트)",
  "project_name": "프로젝트명만 (예: PlayKami, Rootstock)",
  "total_prize": "총 상금이 명시되어 있으면 기입, 없으면 '%s'",
  "prize_breakdown": "회차별/등수별 상금 상세 (예: 1등 30000 $CROSS, 2등 15000 $CROSS)",
  "start_date": "YYYY-MM-DD",
  "end_date": "YYYY-MM-DD",
  "duration_days": 이벤트 진행 일수,
  "mission_summary": "유저가 수행해야 할 미션을 간단명료하게 정리 (예: 트위터 팔로우, 텔레그램 가입, 댓글 작성)"
}

규칙:
1. title: 매력적이고 명확한 제목 생성
2. project_name: 프로젝트명만 간단히
3. total_prize:
   - 전체 상금이 명시되어 있으면 작성 (예: 5천만원, 총 150000 $CROSS)
   - 회차별로만 나뉘어 있고 전체 합계가 없으면 "%s"
4. prize_breakdown: 각 회차/등수별 상금을 자세히
5. start_date: YYYY-MM-DD (현재 %d년 %d월)
6. end_date: YYYY-MM-DD (시작일 + 진행일수로 계산)
7. duration_days: 시작일~종료일 일수
8. mission_summary: 유저가 해야 할 행동을 핵심만 간단히 (2-3줄 이내)
9. 알 수 없는 값은 null
10. JSON만 출력

JSON:`

// BuildEventPrompt embeds text and the field schema into the extraction instruction.
func BuildEventPrompt(text string, now time.Time) string {
	return fmt.Sprintf(eventPromptTemplate,
		strings.TrimSpace(text),
		event.UniformPrizeMarker,
		event.UniformPrizeMarker,
		now.Year(), int(now.Month()),
	)
}

const locationPromptTemplate = `다음 이벤트 정보를 보고 온라인/오프라인 이벤트인지 판단하세요.

이벤트 제목: %s
미션 내용: %s

규칙:
- 특정 오프라인 장소나 주소가 명시되어 있으면 "%s"
- 온라인에서만 진행되는 이벤트면 "%s"
- 판단이 애매하면 기본값 "%s"

"%s" 또는 "%s" 중 하나만 응답하세요.`

// BuildLocationPrompt asks for a one-word online/offline answer.
func BuildLocationPrompt(title, mission string) string {
	on, off := string(event.LocationOnline), string(event.LocationOffline)
	return fmt.Sprintf(locationPromptTemplate, title, mission, off, on, on, on, off)
}

// StripCodeFence removes a surrounding ```json or ``` fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}

// jsonObject narrows s to the outermost {...} span, dropping any prose
// the model wrapped around it.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
