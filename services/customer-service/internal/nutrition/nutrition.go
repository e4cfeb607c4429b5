// Package nutrition turns a customer's food records into intake statistics,
// warnings and advice for the portal and for consultation notes.
package nutrition

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Breakfast = "아침"
	Lunch     = "점심"
	Dinner    = "저녁"
	Snack     = "간식"
	LateNight = "야식"
)

// MealTypes lists every meal slot in display order.
var MealTypes = []string{Breakfast, Lunch, Dinner, Snack, LateNight}

// MealSlot classifies the hour of t in loc, counting late evening and the
// small hours as a late-night snack.
func MealSlot(t time.Time, loc *time.Location) string {
	switch h := t.In(loc).Hour(); {
	case h >= 6 && h < 10:
		return Breakfast
	case h >= 11 && h < 15:
		return Lunch
	case h >= 17 && h < 21:
		return Dinner
	case h >= 21 || h < 2:
		return LateNight
	default:
		return Snack
	}
}

func IsMealType(s string) bool {
	for _, m := range MealTypes {
		if s == m {
			return true
		}
	}
	return false
}

// Facts are the tracked nutrients of one item or one day.
type Facts struct {
	Calories      float64 `json:"calories"`
	Carbohydrates float64 `json:"carbohydrates"`
	Protein       float64 `json:"protein"`
	Fat           float64 `json:"fat"`
	Fiber         float64 `json:"fiber"`
	Sodium        float64 `json:"sodium"`
	Sugar         float64 `json:"sugar"`
}

func (f *Facts) add(o Facts) {
	f.Calories += o.Calories
	f.Carbohydrates += o.Carbohydrates
	f.Protein += o.Protein
	f.Fat += o.Fat
	f.Fiber += o.Fiber
	f.Sodium += o.Sodium
	f.Sugar += o.Sugar
}

// Daily is the recommended intake for one day. Sodium is in mg, calories in
// kcal and everything else in grams.
var Daily = Facts{
	Calories:      2000,
	Carbohydrates: 300,
	Protein:       65,
	Fat:           65,
	Fiber:         25,
	Sodium:        2000,
	Sugar:         50,
}

// Entry is one eaten item.
type Entry struct {
	Date     string // YYYY-MM-DD
	Time     string // HH:MM:SS
	MealType string
	FoodName string
	Category string
	Facts    Facts
}

// Number decodes model output leniently: numbers, numeric strings and
// nulls are accepted, anything else reads as zero.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		*n = Number(x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			*n = Number(f)
		}
	}
	return nil
}

type storedFacts struct {
	Calories      Number `json:"calories"`
	Carbohydrates Number `json:"carbohydrates"`
	Protein       Number `json:"protein"`
	Fat           Number `json:"fat"`
	Fiber         Number `json:"fiber"`
	Sodium        Number `json:"sodium"`
	Sugar         Number `json:"sugar"`
}

func (s storedFacts) facts() Facts {
	return Facts{
		Calories:      float64(s.Calories),
		Carbohydrates: float64(s.Carbohydrates),
		Protein:       float64(s.Protein),
		Fat:           float64(s.Fat),
		Fiber:         float64(s.Fiber),
		Sodium:        float64(s.Sodium),
		Sugar:         float64(s.Sugar),
	}
}

// ReadFacts extracts nutrients from a stored record. nutritional_info wins;
// older records only carry the model's analysis with a nested nutrition
// object. A non-zero actualCalories overrides the calorie estimate.
func ReadFacts(actualCalories *float64, nutritional, analysis json.RawMessage) Facts {
	var f Facts
	var stored storedFacts
	if len(nutritional) > 0 && json.Unmarshal(nutritional, &stored) == nil {
		f = stored.facts()
	} else if len(analysis) > 0 {
		var wrapped struct {
			Nutrition storedFacts `json:"nutrition"`
		}
		if json.Unmarshal(analysis, &wrapped) == nil {
			f = wrapped.Nutrition.facts()
		}
	}
	if actualCalories != nil && *actualCalories != 0 {
		f.Calories = *actualCalories
	}
	return f
}

func round(v float64) int { return int(math.Round(v)) }

// round1 keeps one decimal place.
func round1(v float64) float64 { return math.Round(v*10) / 10 }

func formatCount(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
