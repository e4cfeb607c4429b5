// Package lifestyle asks the model for patient-facing advice: personalised
// care tips and plain-language consultation summaries.
package lifestyle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"golang.org/x/sync/errgroup"
)

const TipsTTL = time.Hour

// Model is satisfied by *gemini.Client.
type Model interface {
	JSON(ctx context.Context, prompt string, dst any, blobs ...gemini.Blob) (string, error)
}

type Recommendation struct {
	Category        string   `json:"category"`
	Recommendations []string `json:"recommendations"`
	Reasoning       string   `json:"reasoning"`
	Priority        string   `json:"priority"`
}

type Tips struct {
	DailyRoutine         Recommendation `json:"daily_routine"`
	Nutrition            Recommendation `json:"nutrition"`
	Exercise             Recommendation `json:"exercise"`
	MedicationManagement Recommendation `json:"medication_management"`
	StressManagement     Recommendation `json:"stress_management"`
	GeneralWellness      []string       `json:"general_wellness"`
	CustomMessage        string         `json:"custom_message"`
}

type Consultation struct {
	ID               string
	ConsultationID   string
	ConsultDate      time.Time
	Symptoms         string
	PatientCondition string
	TongueAnalysis   string
	SpecialNotes     string
	Prescription     string
	Result           string
	CreatedAt        time.Time
}

type Meal struct {
	RecordedDate time.Time
	MealType     string
	FoodName     string
}

// Profile is what the tips prompt is built from.
type Profile struct {
	Name          string
	Gender        string
	EstimatedAge  *int
	SpecialNotes  string
	Consultations []Consultation
	Meals         []Meal
}

type Advisor struct {
	model Model
	tips  *cache.Loader[Tips]
}

func NewAdvisor(model Model, tips *cache.Loader[Tips]) *Advisor {
	return &Advisor{model: model, tips: tips}
}

// Tips returns cached tips for a customer, building the profile and asking
// the model only on a miss.
func (a *Advisor) Tips(ctx context.Context, customerID string, profile func(context.Context) (Profile, error)) (Tips, bool, error) {
	if a.model == nil {
		return Tips{}, false, gemini.ErrNotConfigured
	}
	return a.tips.Get(ctx, customerID, func(ctx context.Context) (Tips, error) {
		p, err := profile(ctx)
		if err != nil {
			return Tips{}, err
		}
		var tips Tips
		if _, err := a.model.JSON(ctx, TipsPrompt(p), &tips); err != nil {
			return Tips{}, err
		}
		return tips, nil
	})
}

// Forget drops cached tips after the customer's record changes.
func (a *Advisor) Forget(ctx context.Context, customerID string) {
	a.tips.Invalidate(ctx, customerID)
}

func orNone(s, none string) string {
	if strings.TrimSpace(s) == "" {
		return none
	}
	return s
}

func TipsPrompt(p Profile) string {
	var b strings.Builder
	b.WriteString("한의학 관점에서 다음 고객의 건강 상태를 분석하고 개인맞춤 생활 관리 팁을 제공해주세요.\n\n고객 정보:\n")
	fmt.Fprintf(&b, "- 이름: %s\n- 성별: %s\n", p.Name, orNone(p.Gender, "미상"))
	if p.EstimatedAge != nil {
		fmt.Fprintf(&b, "- 추정 연령: %d세\n", *p.EstimatedAge)
	}
	fmt.Fprintf(&b, "- 특이사항: %s\n\n최근 상담 기록:\n", orNone(p.SpecialNotes, "없음"))
	if len(p.Consultations) == 0 {
		b.WriteString("상담 기록 없음\n")
	}
	for i, c := range p.Consultations {
		fmt.Fprintf(&b, "%d. 상담일: %s\n   - 증상: %s\n   - 환자 상태: %s\n   - 설진: %s\n   - 처방: %s\n   - 소견: %s\n",
			i+1, c.ConsultDate.Format("2006-01-02"), c.Symptoms,
			orNone(c.PatientCondition, "기록 없음"), orNone(c.TongueAnalysis, "기록 없음"),
			orNone(c.Prescription, "기록 없음"), orNone(c.Result, "기록 없음"))
	}
	b.WriteString("\n최근 식단 기록:\n")
	if len(p.Meals) == 0 {
		b.WriteString("식단 기록 없음\n")
	}
	for i, m := range p.Meals {
		fmt.Fprintf(&b, "%d. %s: %s - %s\n", i+1, m.RecordedDate.Format("2006-01-02"), m.MealType, m.FoodName)
	}
	b.WriteString(`
다음 JSON 형식으로 응답해주세요. daily_routine, nutrition, exercise, medication_management, stress_management 각각은
{"category": "분류", "recommendations": ["구체적인 팁"], "reasoning": "한의학적 근거", "priority": "high|medium|low"} 형태입니다.
{"daily_routine": {...}, "nutrition": {...}, "exercise": {...}, "medication_management": {...}, "stress_management": {...},
 "general_wellness": ["일반적인 건강 관리 팁"], "custom_message": "고객에게 전하는 격려 메시지 (100자 이내)"}

주의사항: 실생활에서 바로 적용 가능한 방법을 긍정적인 톤으로 제시하고, 의료진 상담이 필요한 경우 명시하세요.`)
	return b.String()
}

type Summary struct {
	ID                       string    `json:"id"`
	ConsultationID           string    `json:"consultation_id"`
	ConsultDate              time.Time `json:"consult_date"`
	PatientFriendlySummary   string    `json:"patient_friendly_summary"`
	KeySymptoms              []string  `json:"key_symptoms"`
	PrescribedMedications    []string  `json:"prescribed_medications"`
	LifestyleRecommendations []string  `json:"lifestyle_recommendations"`
	FollowUpNotes            string    `json:"follow_up_notes"`
	UrgencyLevel             string    `json:"urgency_level"`
	CreatedAt                time.Time `json:"created_at"`
}

const summaryConcurrency = 3

// Summaries asks for one summary per consultation. A consultation whose
// answer fails gets a plain fallback built from its own fields.
func (a *Advisor) Summaries(ctx context.Context, consultations []Consultation) []Summary {
	out := make([]Summary, len(consultations))
	if a.model == nil {
		for i, c := range consultations {
			out[i] = FallbackSummary(c)
		}
		return out
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, c := range consultations {
		g.Go(func() error {
			var s Summary
			if _, err := a.model.JSON(gctx, SummaryPrompt(c), &s); err != nil || s.PatientFriendlySummary == "" {
				out[i] = FallbackSummary(c)
				return nil
			}
			out[i] = withSource(s, c)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func withSource(s Summary, c Consultation) Summary {
	s.ID, s.ConsultationID, s.ConsultDate, s.CreatedAt = c.ID, c.ConsultationID, c.ConsultDate, c.CreatedAt
	if s.KeySymptoms == nil {
		s.KeySymptoms = []string{}
	}
	if s.PrescribedMedications == nil {
		s.PrescribedMedications = []string{}
	}
	if s.LifestyleRecommendations == nil {
		s.LifestyleRecommendations = []string{}
	}
	if s.UrgencyLevel == "" {
		s.UrgencyLevel = "low"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func FallbackSummary(c Consultation) Summary {
	s := Summary{
		PatientFriendlySummary:   "상담 내용을 확인할 수 없습니다.",
		KeySymptoms:              []string{},
		PrescribedMedications:    []string{},
		LifestyleRecommendations: []string{"규칙적인 생활습관 유지", "적절한 휴식"},
		FollowUpNotes:            "증상 변화 시 재방문 권장",
	}
	if c.Symptoms != "" {
		s.PatientFriendlySummary = truncate(c.Symptoms, 150) + "에 대한 상담을 받으셨습니다."
		s.KeySymptoms = []string{truncate(c.Symptoms, 50)}
	}
	if c.Prescription != "" {
		s.PrescribedMedications = []string{truncate(c.Prescription, 100)}
	}
	return withSource(s, c)
}

func SummaryPrompt(c Consultation) string {
	return fmt.Sprintf(`다음 한의학 상담 기록을 환자(고객) 관점에서 이해하기 쉽게 요약해주세요.
의료진만 알아야 할 세부사항은 제외하고, 환자가 알아야 할 핵심 내용만 포함해주세요.

상담 정보:
- 상담일: %s
- 호소 증상: %s
- 환자 상태: %s
- 설진 분석: %s
- 처방: %s
- 결과/소견: %s
- 특이사항: %s

다음 JSON 형식으로 응답해주세요:
{"patient_friendly_summary": "200자 이내 요약", "key_symptoms": ["주요 증상"], "prescribed_medications": ["처방약/치료법"],
 "lifestyle_recommendations": ["생활습관 권장사항"], "follow_up_notes": "100자 이내 안내", "urgency_level": "low|medium|high"}`,
		c.ConsultDate.Format("2006-01-02"), c.Symptoms,
		orNone(c.PatientCondition, "기록 없음"), orNone(c.TongueAnalysis, "기록 없음"),
		orNone(c.Prescription, "기록 없음"), orNone(c.Result, "기록 없음"), orNone(c.SpecialNotes, "기록 없음"))
}
