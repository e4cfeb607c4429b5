package nutrition

import (
	"fmt"
	"strings"
	"time"
)

// Patient is what the recommendation prompt knows about a customer.
type Patient struct {
	Name             string
	EstimatedAge     *int
	Gender           string
	SpecialNotes     string
	HealthConditions []string
}

type Visit struct {
	ConsultDate      time.Time
	Symptoms         string
	PatientCondition string
	Prescription     string
	SpecialNotes     string
	Result           string
}

type ConditionAdvice struct {
	Condition       string   `json:"condition"`
	DietaryAdvice   string   `json:"dietary_advice"`
	FoodsToIncrease []string `json:"foods_to_increase"`
	FoodsToAvoid    []string `json:"foods_to_avoid"`
	LifestyleTips   string   `json:"lifestyle_tips"`
}

type Improvement struct {
	Nutrient       string   `json:"nutrient"`
	CurrentStatus  string   `json:"current_status"`
	Recommendation string   `json:"recommendation"`
	SuggestedFoods []string `json:"suggested_foods"`
}

type MealPatternAdvice struct {
	PositivePoints   []string `json:"positive_points"`
	AreasToImprove   []string `json:"areas_to_improve"`
	MealScheduleTips string   `json:"meal_schedule_tips"`
}

type WeeklyMeals struct {
	Breakfast []string `json:"breakfast"`
	Lunch     []string `json:"lunch"`
	Dinner    []string `json:"dinner"`
	Snacks    []string `json:"snacks"`
}

// Recommendations is the structured advice the model returns.
type Recommendations struct {
	OverallAssessment          string            `json:"overall_assessment"`
	ConditionSpecificAdvice    []ConditionAdvice `json:"condition_specific_advice"`
	NutritionImprovements      []Improvement     `json:"nutrition_improvements"`
	MealPatternAdvice          MealPatternAdvice `json:"meal_pattern_advice"`
	WeeklyMealSuggestions      WeeklyMeals       `json:"weekly_meal_suggestions"`
	MedicationFoodInteractions string            `json:"medication_food_interactions"`
	PriorityActions            []string          `json:"priority_actions"`
	EncouragingMessage         string            `json:"encouraging_message"`
}

func orNone(s, none string) string {
	if strings.TrimSpace(s) == "" {
		return none
	}
	return s
}

func joinOrNone(list []string) string {
	if len(list) == 0 {
		return "없음"
	}
	return strings.Join(list, ", ")
}

func RecommendationPrompt(p Patient, visits []Visit, s Summary) string {
	var b strings.Builder
	b.WriteString("당신은 전문 약사입니다. 다음 환자 정보를 바탕으로 맞춤형 영양 및 생활습관 권장사항을 제공해주세요.\n\n")
	b.WriteString("## 환자 기본 정보\n")
	fmt.Fprintf(&b, "- 이름: %s\n", p.Name)
	if p.EstimatedAge != nil {
		fmt.Fprintf(&b, "- 추정 나이: %d세\n", *p.EstimatedAge)
	} else {
		b.WriteString("- 추정 나이: 미상\n")
	}
	fmt.Fprintf(&b, "- 성별: %s\n", orNone(p.Gender, "미상"))
	fmt.Fprintf(&b, "- 특이사항: %s\n", orNone(p.SpecialNotes, "없음"))
	fmt.Fprintf(&b, "- 건강 상태: %s\n\n", joinOrNone(p.HealthConditions))

	b.WriteString("## 최근 상담 기록\n")
	if len(visits) == 0 {
		b.WriteString("상담 기록이 없습니다.\n")
	}
	for i, v := range visits {
		fmt.Fprintf(&b, "### 상담 %d (%s)\n", i+1, v.ConsultDate.Format(DateLayout))
		fmt.Fprintf(&b, "- 호소증상: %s\n- 환자상태: %s\n- 처방약: %s\n- 특이사항: %s\n- 결과: %s\n",
			orNone(v.Symptoms, "없음"), orNone(v.PatientCondition, "없음"), orNone(v.Prescription, "없음"),
			orNone(v.SpecialNotes, "없음"), orNone(v.Result, "없음"))
	}

	b.WriteString("\n## 최근 7일 식사 패턴 분석\n")
	fmt.Fprintf(&b, "- 총 식사 횟수: %d회\n", s.TotalMeals)
	fmt.Fprintf(&b, "- 평균 일일 칼로리: %dkcal\n", s.AvgCalories)
	fmt.Fprintf(&b, "- 평균 탄수화물: %dg\n- 평균 단백질: %dg\n- 평균 지방: %dg\n", s.AvgCarbohydrates, s.AvgProtein, s.AvgFat)
	fmt.Fprintf(&b, "- 평균 나트륨: %dmg\n- 평균 당류: %dg\n", s.AvgSodium, s.AvgSugar)
	fmt.Fprintf(&b, "- 주요 음식 카테고리: %s\n", joinOrNone(s.TopCategories))
	fmt.Fprintf(&b, "- 자주 먹는 음식: %s\n\n", joinOrNone(s.FrequentFoods))

	b.WriteString(`## 요청사항
위 정보를 바탕으로 다음 형식의 JSON으로 맞춤 권장사항을 제공해주세요:
{
  "overall_assessment": "전반적인 건강 상태 및 식습관 평가 (2-3문장)",
  "condition_specific_advice": [{"condition": "관련 질환/증상명", "dietary_advice": "식단 관련 조언", "foods_to_increase": ["권장 음식"], "foods_to_avoid": ["주의 음식"], "lifestyle_tips": "생활습관 조언"}],
  "nutrition_improvements": [{"nutrient": "부족하거나 과잉인 영양소", "current_status": "현재 상태 설명", "recommendation": "개선 방안", "suggested_foods": ["권장 음식"]}],
  "meal_pattern_advice": {"positive_points": ["잘하고 있는 점"], "areas_to_improve": ["개선이 필요한 점"], "meal_schedule_tips": "식사 시간/규칙성 관련 조언"},
  "weekly_meal_suggestions": {"breakfast": ["아침 추천 메뉴"], "lunch": ["점심 추천 메뉴"], "dinner": ["저녁 추천 메뉴"], "snacks": ["건강 간식"]},
  "medication_food_interactions": "복용 중인 약과 음식 상호작용 주의사항 (있는 경우)",
  "priority_actions": ["가장 시급한 개선 사항"],
  "encouraging_message": "환자에게 전하는 격려/동기부여 메시지"
}
모든 내용은 한국어로 작성하고, 환자의 상태와 식습관에 맞춤화된 실질적인 조언을 제공해주세요.`)
	return b.String()
}

// DefaultRecommendations stands in when the model's answer cannot be read.
func DefaultRecommendations() Recommendations {
	return Recommendations{
		OverallAssessment:       "식사 기록을 바탕으로 분석한 결과, 전반적인 영양 상태를 점검해 주세요.",
		ConditionSpecificAdvice: []ConditionAdvice{},
		NutritionImprovements: []Improvement{{
			Nutrient:       "균형 잡힌 식단",
			CurrentStatus:  "식사 기록 분석 중",
			Recommendation: "매끼 단백질, 탄수화물, 채소를 균형 있게 섭취하세요.",
			SuggestedFoods: []string{"현미밥", "닭가슴살", "계절 채소"},
		}},
		MealPatternAdvice: MealPatternAdvice{
			PositivePoints:   []string{"음식 기록을 시작하셨습니다"},
			AreasToImprove:   []string{"꾸준한 식사 기록이 필요합니다"},
			MealScheduleTips: "하루 세 끼 규칙적인 식사를 권장합니다.",
		},
		WeeklyMealSuggestions: WeeklyMeals{
			Breakfast: []string{"현미밥과 된장국", "통밀빵과 계란"},
			Lunch:     []string{"비빔밥", "닭가슴살 샐러드"},
			Dinner:    []string{"생선구이와 채소", "두부 찌개"},
			Snacks:    []string{"견과류", "신선한 과일"},
		},
		MedicationFoodInteractions: "복용 중인 약이 있다면 약사와 상담하세요.",
		PriorityActions:            []string{"매일 식사 기록을 꾸준히 해주세요", "물을 충분히 마셔주세요", "규칙적인 식사 시간을 유지해주세요"},
		EncouragingMessage:         "건강한 식습관을 위한 첫 걸음을 내딛으셨습니다! 꾸준히 기록하시면 더 나은 조언을 드릴 수 있습니다.",
	}
}
