package food

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const assessmentReply = "```json\n" + `{
  "food_name": "김치찌개", "food_category": "한식", "confidence": 0.9,
  "estimated_calories_per_serving": "400", "estimated_serving_size": "1인분",
  "nutritional_info": {"carbohydrates": 45, "protein": 20, "fat": 15},
  "analysis_context": {"appears_finished": true, "portion_clarity": "명확함"},
  "smart_questions": [
    {"id": "portion_check", "question": "이 정도 양을 드신 게 맞나요?", "options": ["네 (100%)", "절반 (50%)"],
     "skip_if": "appears_finished === true && portion_clarity === '명확함'"},
    {"id": "food_confirmation", "question": "김치찌개가 맞나요?", "options": ["맞습니다"], "skip_if": "confidence > 0.8"},
    {"id": "timing_check", "question": "언제 드셨나요?", "options": ["방금 전", "30분 전"]}
  ]
}` + "\n```"

func TestQuestionsHonourSkipConditions(t *testing.T) {
	a, err := ParseAssessment(assessmentReply)
	if err != nil {
		t.Fatal(err)
	}
	want := []Question{{
		ID:           "timing_check",
		Type:         QuestionTiming,
		Question:     "언제 드셨나요?",
		Options:      []string{"방금 전", "30분 전"},
		DefaultValue: "방금 전",
	}}
	if diff := cmp.Diff(want, Questions(a)); diff != "" {
		t.Fatalf("questions (-want +got):\n%s", diff)
	}

	// Only one half of the compound condition holds.
	a.Context.PortionClarity = "애매함"
	got := Questions(a)
	if len(got) != 2 || got[0].ID != "portion_check" || got[0].Type != QuestionPortion {
		t.Fatalf("portion question should be asked, got %+v", got)
	}
}

func TestQuestionsFallBackToConfirmation(t *testing.T) {
	got := Questions(Assessment{FoodName: "비빔밥"})
	want := []Question{{
		ID:           "food_confirmation",
		Type:         QuestionConfirmation,
		Question:     `이 음식이 "비빔밥"가 맞나요?`,
		Options:      []string{"맞습니다", "아닙니다 (직접 입력)"},
		DefaultValue: "맞습니다",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("questions (-want +got):\n%s", diff)
	}
}

func TestParseAssessmentDefaults(t *testing.T) {
	a, err := ParseAssessment(`{"smart_questions": []}`)
	if err != nil {
		t.Fatal(err)
	}
	if a.FoodName != "알 수 없는 음식" || a.FoodCategory != "기타" || a.Confidence != 0.5 || a.BaseCalories() != 200 {
		t.Fatalf("unexpected defaults %+v", a)
	}
	a.CaloriesPer100g = 180
	if a.BaseCalories() != 180 {
		t.Fatalf("per 100g estimate ignored: %v", a.BaseCalories())
	}
}

func TestProcessAnswers(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, kst)
	got := ProcessAnswers([]Answer{
		{QuestionID: "portion_check", Answer: "절반 정도 (50%)"},
		{QuestionID: "timing_check", Answer: "30분 전"},
		{QuestionID: "meal_category", Answer: " 저녁 "},
		{QuestionID: "food_confirmation", Answer: "아닙니다 (직접 입력)", CustomValue: " 된장찌개 "},
		{QuestionID: "spicy_level", Answer: "보통"},
	}, now, kst)
	at := now.Add(-30 * time.Minute)
	want := Answers{
		PortionPercent: 50,
		ConsumedAt:     &at,
		MealType:       "저녁",
		CorrectedName:  "된장찌개",
		Other:          map[string]string{"spicy_level": "보통"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("answers (-want +got):\n%s", diff)
	}

	cases := map[string]int{"0%": 1, "150%": 100, "다 먹었어요": 100}
	for answer, percent := range cases {
		got := ProcessAnswers([]Answer{{QuestionID: "portion", Answer: answer}}, now, kst)
		if got.PortionPercent != percent {
			t.Errorf("%q: got %d want %d", answer, got.PortionPercent, percent)
		}
	}

	custom := ProcessAnswers([]Answer{{QuestionID: "timing", Answer: "직접 입력", CustomValue: "2026-05-31T19:20"}}, now, kst)
	if want := time.Date(2026, 5, 31, 19, 20, 0, 0, kst); !custom.ConsumedAt.Equal(want) {
		t.Fatalf("custom time %v", custom.ConsumedAt)
	}
}

func TestFinalize(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, kst)
	a := Assessment{
		FoodName:           "김치찌개",
		FoodCategory:       "한식",
		Confidence:         0.6,
		CaloriesPerServing: 400,
		ServingSize:        "1인분",
		NutritionalInfo:    Macros{Carbohydrates: 45, Protein: 20, Fat: 15},
	}
	at := now.Add(-30 * time.Minute)
	got := Finalize(a, Answers{PortionPercent: 50, ConsumedAt: &at, CorrectedName: "된장찌개"}, now, kst)
	want := Final{
		FoodName:        "된장찌개",
		FoodDescription: "김치찌개 (대부분 섭취, 50%)",
		FoodCategory:    "한식",
		ConfidenceScore: 1,
		PortionConsumed: 50,
		ActualCalories:  200,
		MealType:        "점심",
		ConsumedAt:      at,
		NutritionalInfo: Eaten{Calories: 200, Carbohydrates: 23, Protein: 10, Fat: 8, EstimatedWeightGrams: 75},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("final (-want +got):\n%s", diff)
	}

	a.Context = Context{PortionClarity: "애매함"}
	if got := Finalize(a, Answers{}, now, kst); got.PortionConsumed != 75 || got.ActualCalories != 300 {
		t.Fatalf("unclear portion should count as 75%%, got %+v", got)
	}
	a.Context.AppearsFinished = true
	got = Finalize(a, Answers{MealType: "야식"}, now, kst)
	if got.PortionConsumed != 100 || got.FoodDescription != "김치찌개 (완전 섭취)" || got.MealType != "야식" {
		t.Fatalf("finished plate: %+v", got)
	}
}
