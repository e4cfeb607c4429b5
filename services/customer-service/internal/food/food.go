// Package food reads the model's analysis of a meal photo.
package food

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
)

const Prompt = `이 음식 사진을 분석하여 아래 형식의 JSON 하나만 반환하세요.
{
  "food_name": "음식 이름",
  "food_description": "음식에 대한 간단한 설명",
  "food_category": "한식/중식/양식/일식/간식/음료 등",
  "ingredients": ["주요 재료"],
  "estimated_calories": 500,
  "nutritional_info": {"carbohydrates": "탄수화물", "protein": "단백질", "fat": "지방", "fiber": "식이섬유"},
  "health_notes": "건강 관련 참고사항",
  "confidence": 0.9
}`

const (
	unknownFood       = "알 수 없는 음식"
	defaultConfidence = 0.5
)

type Analysis struct {
	FoodName          string            `json:"food_name"`
	FoodDescription   string            `json:"food_description"`
	FoodCategory      string            `json:"food_category"`
	Ingredients       []string          `json:"ingredients"`
	EstimatedCalories float64           `json:"estimated_calories"`
	NutritionalInfo   map[string]string `json:"nutritional_info"`
	HealthNotes       string            `json:"health_notes"`
	Confidence        float64           `json:"confidence"`
}

// Parse decodes a reply and fills the name and confidence when absent.
func Parse(reply string) (Analysis, error) {
	var a Analysis
	if err := json.Unmarshal([]byte(gemini.ExtractJSON(reply)), &a); err != nil {
		return Analysis{}, err
	}
	if a.FoodName == "" {
		a.FoodName = unknownFood
	}
	if a.Confidence <= 0 {
		a.Confidence = defaultConfidence
	}
	if a.Ingredients == nil {
		a.Ingredients = []string{}
	}
	return a, nil
}

// MealType classifies the hour of t in loc.
func MealType(t time.Time, loc *time.Location) string {
	switch h := t.In(loc).Hour(); {
	case h >= 6 && h < 10:
		return "아침"
	case h >= 11 && h < 15:
		return "점심"
	case h >= 17 && h < 21:
		return "저녁"
	default:
		return "간식"
	}
}
