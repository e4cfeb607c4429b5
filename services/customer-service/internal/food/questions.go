package food

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/nutrition"
)

const QuestionPrompt = `이 음식 이미지를 분석하고, 상황에 맞는 질문을 동적으로 생성해주세요.

JSON 형태로 응답해주세요:
{
  "food_name": "구체적인 음식 이름 (한국어)",
  "food_category": "음식 카테고리 (한식/양식/중식/일식/간식/음료/과일/디저트 등)",
  "confidence": 0.85,
  "estimated_calories_per_serving": 400,
  "estimated_serving_size": "1인분/소량/대량",
  "nutritional_info": {"carbohydrates": 45, "protein": 20, "fat": 15},
  "analysis_context": {
    "appears_finished": true,
    "portion_clarity": "명확함/애매함/판단불가",
    "multiple_items": false,
    "eating_context": "식사중/식사완료/준비된음식"
  },
  "smart_questions": [
    {
      "id": "portion_check",
      "question": "이 정도 양을 드신 게 맞나요?",
      "reason": "접시가 깨끗해서 다 드신 것 같지만 확인이 필요합니다",
      "options": ["네, 다 먹었어요 (100%)", "절반 정도 (50%)", "조금만 (25%)"],
      "skip_if": "appears_finished === true && portion_clarity === '명확함'"
    },
    {
      "id": "food_confirmation",
      "question": "이 음식이 '김치찌개'가 맞나요?",
      "reason": "AI 신뢰도가 낮아 확인이 필요합니다",
      "options": ["맞습니다", "아닙니다 (직접 입력)"],
      "skip_if": "confidence > 0.8"
    }
  ]
}

분석 기준:
1. 음식명 확신도가 0.8 이상이면 음식명 확인 질문 생략
2. 접시가 깨끗하면 다 먹은 것으로 추정하고, 소량 포장 음식은 섭취량 질문 생략
3. 이미 먹은 흔적이 있거나 갤러리 사진이면 섭취 시간 질문(timing) 포함
4. 식사 구분은 시간대로 추정하므로 질문 불필요
필요한 질문만 생성하고 불필요한 질문은 제외하세요.`

const (
	QuestionPortion      = "portion"
	QuestionTiming       = "timing"
	QuestionCategory     = "category"
	QuestionConfirmation = "confirmation"

	answerCorrected = "아닙니다 (직접 입력)"
	defaultCalories = 200
)

type Context struct {
	AppearsFinished bool   `json:"appears_finished"`
	PortionClarity  string `json:"portion_clarity"`
	MultipleItems   bool   `json:"multiple_items"`
	EatingContext   string `json:"eating_context"`
}

type SmartQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Reason   string   `json:"reason"`
	Options  []string `json:"options"`
	SkipIf   string   `json:"skip_if"`
}

type Macros struct {
	Carbohydrates nutrition.Number `json:"carbohydrates"`
	Protein       nutrition.Number `json:"protein"`
	Fat           nutrition.Number `json:"fat"`
}

// Assessment is the model's first look at a meal photo, stored with the
// session until the customer answers.
type Assessment struct {
	FoodName           string           `json:"food_name"`
	FoodCategory       string           `json:"food_category"`
	Confidence         nutrition.Number `json:"confidence"`
	CaloriesPerServing nutrition.Number `json:"estimated_calories_per_serving"`
	CaloriesPer100g    nutrition.Number `json:"estimated_calories_per_100g"`
	ServingSize        string           `json:"estimated_serving_size"`
	NutritionalInfo    Macros           `json:"nutritional_info"`
	Context            Context          `json:"analysis_context"`
	SmartQuestions     []SmartQuestion  `json:"smart_questions"`
}

func ParseAssessment(reply string) (Assessment, error) {
	var a Assessment
	if err := gemini.DecodeJSON(reply, &a); err != nil {
		return Assessment{}, err
	}
	if strings.TrimSpace(a.FoodName) == "" {
		a.FoodName = unknownFood
	}
	if strings.TrimSpace(a.FoodCategory) == "" {
		a.FoodCategory = "기타"
	}
	if a.Confidence <= 0 {
		a.Confidence = defaultConfidence
	}
	return a, nil
}

// BaseCalories is the estimate for a full portion.
func (a Assessment) BaseCalories() float64 {
	switch {
	case a.CaloriesPerServing > 0:
		return float64(a.CaloriesPerServing)
	case a.CaloriesPer100g > 0:
		return float64(a.CaloriesPer100g)
	default:
		return defaultCalories
	}
}

type Question struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	DefaultValue string   `json:"defaultValue"`
}

// QuestionType classifies a question by its id.
func QuestionType(id string) string {
	switch {
	case strings.Contains(id, "portion"):
		return QuestionPortion
	case strings.Contains(id, "timing"), strings.Contains(id, "time"):
		return QuestionTiming
	case strings.Contains(id, "meal"), strings.Contains(id, "category"):
		return QuestionCategory
	default:
		return QuestionConfirmation
	}
}

// Questions keeps the suggested questions whose skip condition does not
// hold. When nothing is left the customer still confirms the food name.
func Questions(a Assessment) []Question {
	out := []Question{}
	for _, sq := range a.SmartQuestions {
		if sq.ID == "" || skip(sq.SkipIf, a) {
			continue
		}
		q := Question{ID: sq.ID, Type: QuestionType(sq.ID), Question: sq.Question, Options: sq.Options}
		if q.Options == nil {
			q.Options = []string{}
		}
		if len(q.Options) > 0 {
			q.DefaultValue = q.Options[0]
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		out = append(out, Question{
			ID:           "food_confirmation",
			Type:         QuestionConfirmation,
			Question:     fmt.Sprintf("이 음식이 %q가 맞나요?", a.FoodName),
			Options:      []string{"맞습니다", answerCorrected},
			DefaultValue: "맞습니다",
		})
	}
	return out
}

var threshold = regexp.MustCompile(`[\d.]+`)

// skip evaluates the small condition language the model uses: terms joined
// by && that compare confidence or an analysis_context field. Unknown terms
// never skip.
func skip(cond string, a Assessment) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false
	}
	for _, term := range strings.Split(cond, "&&") {
		if !holds(strings.TrimSpace(term), a) {
			return false
		}
	}
	return true
}

func holds(term string, a Assessment) bool {
	switch {
	case strings.HasPrefix(term, "confidence >"):
		v, err := strconv.ParseFloat(threshold.FindString(strings.TrimPrefix(term, "confidence >")), 64)
		return err == nil && float64(a.Confidence) > v
	case term == "appears_finished === true":
		return a.Context.AppearsFinished
	case term == "multiple_items === false":
		return !a.Context.MultipleItems
	case strings.HasPrefix(term, "portion_clarity ==="):
		return a.Context.PortionClarity == quoted(term)
	case strings.HasPrefix(term, "eating_context ==="):
		return a.Context.EatingContext == quoted(term)
	default:
		return false
	}
}

func quoted(term string) string {
	_, v, _ := strings.Cut(term, "===")
	return strings.Trim(strings.TrimSpace(v), `'"`)
}

type Answer struct {
	QuestionID  string `json:"questionId"`
	Answer      string `json:"answer"`
	CustomValue string `json:"customValue,omitempty"`
}

// Answers is what the customer's replies settle.
type Answers struct {
	PortionPercent int               `json:"portion_percentage,omitempty"`
	ConsumedAt     *time.Time        `json:"consumed_time,omitempty"`
	MealType       string            `json:"meal_type,omitempty"`
	CorrectedName  string            `json:"corrected_food_name,omitempty"`
	Other          map[string]string `json:"other,omitempty"`
}

var percent = regexp.MustCompile(`(\d+)%`)

// ProcessAnswers reads replies relative to now. A portion reply without a
// percentage means the whole portion.
func ProcessAnswers(answers []Answer, now time.Time, loc *time.Location) Answers {
	var out Answers
	for _, ans := range answers {
		switch QuestionType(ans.QuestionID) {
		case QuestionPortion:
			out.PortionPercent = 100
			if m := percent.FindStringSubmatch(ans.Answer); m != nil {
				if v, err := strconv.Atoi(m[1]); err == nil {
					out.PortionPercent = min(max(v, 1), 100)
				}
			}
		case QuestionTiming:
			t := consumedAt(ans, now, loc)
			out.ConsumedAt = &t
		case QuestionCategory:
			out.MealType = strings.TrimSpace(ans.Answer)
		default:
			if strings.HasPrefix(ans.Answer, "아닙니다") && strings.TrimSpace(ans.CustomValue) != "" {
				out.CorrectedName = strings.TrimSpace(ans.CustomValue)
				continue
			}
			if out.Other == nil {
				out.Other = map[string]string{}
			}
			out.Other[ans.QuestionID] = ans.Answer
		}
	}
	return out
}

func consumedAt(ans Answer, now time.Time, loc *time.Location) time.Time {
	switch {
	case strings.Contains(ans.Answer, "방금 전"):
		return now
	case strings.Contains(ans.Answer, "30분 전"):
		return now.Add(-30 * time.Minute)
	case strings.Contains(ans.Answer, "2-3시간 전"):
		return now.Add(-150 * time.Minute)
	case strings.Contains(ans.Answer, "1시간 전"):
		return now.Add(-time.Hour)
	}
	v := strings.TrimSpace(ans.CustomValue)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", v, loc); err == nil {
		return t
	}
	return now
}

// Final is the record built from an assessment and the customer's answers.
type Final struct {
	FoodName        string    `json:"food_name"`
	FoodDescription string    `json:"food_description"`
	FoodCategory    string    `json:"food_category"`
	ConfidenceScore float64   `json:"confidence_score"`
	PortionConsumed int       `json:"portion_consumed"`
	ActualCalories  float64   `json:"actual_calories"`
	MealType        string    `json:"meal_type"`
	ConsumedAt      time.Time `json:"consumed_at"`
	NutritionalInfo Eaten     `json:"nutritional_info"`
}

// Eaten scales the per-serving macros to the consumed portion.
type Eaten struct {
	Calories             float64 `json:"calories"`
	Carbohydrates        float64 `json:"carbohydrates"`
	Protein              float64 `json:"protein"`
	Fat                  float64 `json:"fat"`
	EstimatedWeightGrams int     `json:"estimated_weight_grams"`
}

func Finalize(a Assessment, ans Answers, now time.Time, loc *time.Location) Final {
	consumed := now
	if ans.ConsumedAt != nil {
		consumed = *ans.ConsumedAt
	}
	portion := 100
	switch {
	case ans.PortionPercent > 0:
		portion = ans.PortionPercent
	case a.Context.AppearsFinished:
	case a.Context.PortionClarity == "애매함":
		portion = 75
	}
	ratio := float64(portion) / 100
	calories := roundTo(a.BaseCalories() * ratio)

	name := a.FoodName
	confidence := float64(a.Confidence)
	if ans.CorrectedName != "" {
		name, confidence = ans.CorrectedName, 1
	}
	mealType := ans.MealType
	if !nutrition.IsMealType(mealType) {
		mealType = nutrition.MealSlot(consumed, loc)
	}
	return Final{
		FoodName:        name,
		FoodDescription: describe(a.FoodName, portion),
		FoodCategory:    a.FoodCategory,
		ConfidenceScore: confidence,
		PortionConsumed: portion,
		ActualCalories:  calories,
		MealType:        mealType,
		ConsumedAt:      consumed,
		NutritionalInfo: Eaten{
			Calories:             calories,
			Carbohydrates:        roundTo(float64(a.NutritionalInfo.Carbohydrates) * ratio),
			Protein:              roundTo(float64(a.NutritionalInfo.Protein) * ratio),
			Fat:                  roundTo(float64(a.NutritionalInfo.Fat) * ratio),
			EstimatedWeightGrams: int(roundTo(servingWeight(a.ServingSize) * ratio)),
		},
	}
}

func servingWeight(size string) float64 {
	switch {
	case strings.Contains(size, "소량"):
		return 50
	case strings.Contains(size, "대량"):
		return 300
	default:
		return 150
	}
}

func describe(name string, portion int) string {
	switch {
	case portion >= 95:
		return name + " (완전 섭취)"
	case portion >= 50:
		return fmt.Sprintf("%s (대부분 섭취, %d%%)", name, portion)
	default:
		return fmt.Sprintf("%s (일부 섭취, %d%%)", name, portion)
	}
}

func roundTo(v float64) float64 { return math.Round(v) }
