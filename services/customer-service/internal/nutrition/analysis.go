package nutrition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
)

// Conditions are the chronic conditions that change which foods get flagged.
type Conditions struct {
	Diabetes      bool `json:"diabetes"`
	Hypertension  bool `json:"hypertension"`
	KidneyDisease bool `json:"kidney_disease"`
	HeartDisease  bool `json:"heart_disease"`
	Obesity       bool `json:"obesity"`
	Gout          bool `json:"gout"`
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ParseConditions looks for condition keywords in free text such as a
// customer's special notes and declared health conditions.
func ParseConditions(texts ...string) Conditions {
	s := strings.ToLower(strings.Join(texts, " "))
	return Conditions{
		Diabetes:      containsAny(s, "당뇨", "diabetes", "혈당"),
		Hypertension:  containsAny(s, "고혈압", "hypertension", "혈압"),
		KidneyDisease: containsAny(s, "신장", "kidney", "신부전", "투석"),
		HeartDisease:  containsAny(s, "심장", "heart", "심혈관", "협심증"),
		Obesity:       containsAny(s, "비만", "obesity", "체중", "다이어트"),
		Gout:          containsAny(s, "통풍", "gout", "요산"),
	}
}

const DetailedPrompt = `이 음식 이미지를 분석하여 상세한 영양 정보를 JSON 형태로 제공해주세요.

{
  "food_name": "음식 이름 (한국어)",
  "food_description": "음식에 대한 간단한 설명",
  "food_category": "음식 카테고리 (한식/양식/중식/일식/간식/음료/과일/디저트 등)",
  "estimated_weight_grams": 300,
  "confidence": 0.85,
  "ingredients": ["재료1", "재료2"],
  "nutrition": {
    "calories": 500, "carbohydrates": 60, "protein": 20, "fat": 15, "fiber": 5,
    "sodium": 800, "sugar": 10, "cholesterol": 50, "saturated_fat": 4,
    "vitamins": {"a": 0, "c": 0, "d": 0, "b1": 0, "b2": 0},
    "minerals": {"calcium": 0, "iron": 0, "potassium": 0, "magnesium": 0}
  },
  "gi_index": "저/중/고",
  "health_benefits": ["건강상 이점"],
  "health_warnings": ["주의사항"],
  "diabetes_friendly": true,
  "hypertension_friendly": true,
  "heart_friendly": true,
  "kidney_friendly": true
}

- 모든 영양소 값은 단위 없이 숫자만 입력하고 분석이 어려우면 0으로 설정
- 나트륨, 콜레스테롤, 칼륨은 mg, 나머지 영양소는 g 기준
- 한국인의 일반적인 1인분 기준으로 계산
- health_warnings에는 특정 질환자가 주의해야 할 사항 포함
- 모든 텍스트는 한국어로 작성`

type DetailedFacts struct {
	Calories      Number            `json:"calories"`
	Carbohydrates Number            `json:"carbohydrates"`
	Protein       Number            `json:"protein"`
	Fat           Number            `json:"fat"`
	Fiber         Number            `json:"fiber"`
	Sodium        Number            `json:"sodium"`
	Sugar         Number            `json:"sugar"`
	Cholesterol   Number            `json:"cholesterol"`
	SaturatedFat  Number            `json:"saturated_fat"`
	Vitamins      map[string]Number `json:"vitamins,omitempty"`
	Minerals      map[string]Number `json:"minerals,omitempty"`
}

// Detailed is the model's full nutrient breakdown of one photographed meal.
type Detailed struct {
	FoodName             string        `json:"food_name"`
	FoodDescription      string        `json:"food_description"`
	FoodCategory         string        `json:"food_category"`
	EstimatedWeightGrams Number        `json:"estimated_weight_grams"`
	Confidence           Number        `json:"confidence"`
	Ingredients          []string      `json:"ingredients"`
	Nutrition            DetailedFacts `json:"nutrition"`
	GIIndex              string        `json:"gi_index"`
	HealthBenefits       []string      `json:"health_benefits"`
	HealthWarnings       []string      `json:"health_warnings"`
	DiabetesFriendly     *bool         `json:"diabetes_friendly"`
	HypertensionFriendly *bool         `json:"hypertension_friendly"`
	HeartFriendly        *bool         `json:"heart_friendly"`
	KidneyFriendly       *bool         `json:"kidney_friendly"`
}

// ParseDetailed decodes a reply, defaulting the name and confidence.
func ParseDetailed(reply string) (Detailed, error) {
	var d Detailed
	if err := gemini.DecodeJSON(reply, &d); err != nil {
		return Detailed{}, err
	}
	if strings.TrimSpace(d.FoodName) == "" {
		d.FoodName = "알 수 없는 음식"
	}
	if d.Confidence <= 0 {
		d.Confidence = 0.5
	}
	if d.Ingredients == nil {
		d.Ingredients = []string{}
	}
	if d.HealthBenefits == nil {
		d.HealthBenefits = []string{}
	}
	if d.HealthWarnings == nil {
		d.HealthWarnings = []string{}
	}
	return d, nil
}

var highPurine = []string{"내장", "곱창", "간", "등심", "갈비", "새우", "조개", "멸치", "정어리"}

// CustomWarnings flags a meal against the customer's conditions. A missing
// friendliness verdict counts as unfriendly.
func CustomWarnings(d Detailed, c Conditions) []string {
	n := d.Nutrition
	out := []string{}
	if c.Diabetes {
		if d.GIIndex == "고" || n.Sugar > 15 {
			out = append(out, "⚠️ 당뇨 주의: 혈당 지수가 높은 음식입니다. 섭취량을 조절하세요.")
		}
		if n.Carbohydrates > 60 {
			out = append(out, "⚠️ 당뇨 주의: 탄수화물 함량이 높습니다.")
		}
		if !isTrue(d.DiabetesFriendly) {
			out = append(out, "⚠️ 당뇨 환자에게 권장하지 않는 음식입니다.")
		}
	}
	if c.Hypertension {
		if n.Sodium > 600 {
			out = append(out, fmt.Sprintf("⚠️ 고혈압 주의: 나트륨 함량이 높습니다 (%smg).", formatCount(float64(n.Sodium))))
		}
		if !isTrue(d.HypertensionFriendly) {
			out = append(out, "⚠️ 고혈압 환자에게 권장하지 않는 음식입니다.")
		}
	}
	if c.KidneyDisease {
		if n.Protein > 20 {
			out = append(out, "⚠️ 신장질환 주의: 단백질 함량이 높습니다.")
		}
		if n.Minerals["potassium"] > 400 {
			out = append(out, "⚠️ 신장질환 주의: 칼륨 함량이 높습니다.")
		}
		if n.Sodium > 500 {
			out = append(out, "⚠️ 신장질환 주의: 나트륨 함량이 높습니다.")
		}
	}
	if c.HeartDisease {
		if n.Cholesterol > 100 {
			out = append(out, "⚠️ 심장질환 주의: 콜레스테롤이 높습니다.")
		}
		if n.SaturatedFat > 5 {
			out = append(out, "⚠️ 심장질환 주의: 포화지방이 높습니다.")
		}
	}
	if c.Obesity {
		if n.Calories > 500 {
			out = append(out, fmt.Sprintf("⚠️ 체중관리 주의: 고칼로리 음식입니다 (%skcal).", formatCount(float64(n.Calories))))
		}
		if n.Fat > 20 {
			out = append(out, "⚠️ 체중관리 주의: 지방 함량이 높습니다.")
		}
	}
	if c.Gout {
		text := strings.ToLower(d.FoodName + " " + strings.Join(d.Ingredients, " "))
		if containsAny(text, highPurine...) {
			out = append(out, "⚠️ 통풍 주의: 퓨린 함량이 높을 수 있는 음식입니다.")
		}
	}
	return out
}

func isTrue(b *bool) bool { return b != nil && *b }

// RecordInfo is the nutritional_info stored with an analysed meal. Its top
// level nutrient keys are what ReadFacts reads back.
type RecordInfo struct {
	DetailedFacts
	GIIndex                 string   `json:"gi_index,omitempty"`
	HealthBenefits          []string `json:"health_benefits"`
	HealthWarnings          []string `json:"health_warnings"`
	PatientSpecificWarnings []string `json:"patient_specific_warnings"`
	DiabetesFriendly        *bool    `json:"diabetes_friendly,omitempty"`
	HypertensionFriendly    *bool    `json:"hypertension_friendly,omitempty"`
	HeartFriendly           *bool    `json:"heart_friendly,omitempty"`
	KidneyFriendly          *bool    `json:"kidney_friendly,omitempty"`
}

func NewRecordInfo(d Detailed, custom []string) RecordInfo {
	return RecordInfo{
		DetailedFacts:           d.Nutrition,
		GIIndex:                 d.GIIndex,
		HealthBenefits:          d.HealthBenefits,
		HealthWarnings:          append(append([]string{}, d.HealthWarnings...), custom...),
		PatientSpecificWarnings: custom,
		DiabetesFriendly:        d.DiabetesFriendly,
		HypertensionFriendly:    d.HypertensionFriendly,
		HeartFriendly:           d.HeartFriendly,
		KidneyFriendly:          d.KidneyFriendly,
	}
}

func (r RecordInfo) JSON() json.RawMessage {
	raw, _ := json.Marshal(r)
	return raw
}
