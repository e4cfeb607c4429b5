package nutrition

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"

	DateLayout = "2006-01-02"
)

type Status string

const (
	Deficient Status = "deficient"
	Normal    Status = "normal"
	Excess    Status = "excess"
)

type NutrientAnalysis struct {
	Value       float64 `json:"value"`
	Recommended float64 `json:"recommended"`
	Percentage  int     `json:"percentage"`
	Status      Status  `json:"status"`
	Message     string  `json:"message"`
}

type nutrient struct {
	key, name string
	value     func(Facts) float64
}

var nutrients = []nutrient{
	{"calories", "칼로리", func(f Facts) float64 { return f.Calories }},
	{"carbohydrates", "탄수화물", func(f Facts) float64 { return f.Carbohydrates }},
	{"protein", "단백질", func(f Facts) float64 { return f.Protein }},
	{"fat", "지방", func(f Facts) float64 { return f.Fat }},
	{"fiber", "식이섬유", func(f Facts) float64 { return f.Fiber }},
	{"sodium", "나트륨", func(f Facts) float64 { return f.Sodium }},
	{"sugar", "당류", func(f Facts) float64 { return f.Sugar }},
}

func judge(n nutrient, value float64) NutrientAnalysis {
	rec := n.value(Daily)
	a := NutrientAnalysis{Value: value, Recommended: rec, Status: Normal}
	if rec > 0 {
		a.Percentage = round(value / rec * 100)
	}
	p := a.Percentage
	switch n.key {
	case "calories":
		if p < 70 {
			a.Status, a.Message = Deficient, fmt.Sprintf("칼로리 섭취가 부족합니다 (%d%%)", p)
		} else if p > 130 {
			a.Status, a.Message = Excess, fmt.Sprintf("칼로리 섭취가 과다합니다 (%d%%)", p)
		}
	case "sodium", "sugar":
		if p > 100 {
			a.Status, a.Message = Excess, fmt.Sprintf("%s 섭취가 권장량을 초과했습니다 (%d%%)", n.name, p)
		}
	default:
		if p < 50 {
			a.Status, a.Message = Deficient, fmt.Sprintf("%s 섭취가 부족합니다 (%d%%)", n.name, p)
		} else if p > 150 {
			a.Status, a.Message = Excess, fmt.Sprintf("%s 섭취가 과다합니다 (%d%%)", n.name, p)
		}
	}
	return a
}

// Analyze judges each nutrient of one day's totals against Daily. The
// warnings come back in nutrient order.
func Analyze(totals Facts) (map[string]NutrientAnalysis, []string) {
	out := make(map[string]NutrientAnalysis, len(nutrients))
	warnings := []string{}
	for _, n := range nutrients {
		a := judge(n, n.value(totals))
		out[n.key] = a
		if a.Status != Normal {
			warnings = append(warnings, a.Message)
		}
	}
	return out, warnings
}

// HealthScore starts at 100 and loses 10 per deficiency and 15 per excess.
func HealthScore(analysis map[string]NutrientAnalysis) int {
	score := 100
	for _, a := range analysis {
		switch a.Status {
		case Deficient:
			score -= 10
		case Excess:
			score -= 15
		}
	}
	return min(max(score, 0), 100)
}

// Range resolves a period ending on target. A month starts the day after
// the same date one month earlier, clamped to that month's length.
func Range(target time.Time, period string) (start, end time.Time) {
	target = time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodWeek:
		return target.AddDate(0, 0, -6), target
	case PeriodMonth:
		first := time.Date(target.Year(), target.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1).Day()
		back := time.Date(first.Year(), first.Month(), min(target.Day(), last), 0, 0, 0, 0, time.UTC)
		return back.AddDate(0, 0, 1), target
	default:
		return target, target
	}
}

type Day struct {
	Date               string                      `json:"date"`
	TotalCalories      int                         `json:"total_calories"`
	TotalCarbohydrates int                         `json:"total_carbohydrates"`
	TotalProtein       int                         `json:"total_protein"`
	TotalFat           int                         `json:"total_fat"`
	TotalFiber         int                         `json:"total_fiber"`
	TotalSodium        int                         `json:"total_sodium"`
	TotalSugar         int                         `json:"total_sugar"`
	MealCount          int                         `json:"meal_count"`
	MealsByType        map[string]int              `json:"meals_by_type"`
	NutrientAnalysis   map[string]NutrientAnalysis `json:"nutrient_analysis"`
	Warnings           []string                    `json:"warnings"`
	HealthScore        int                         `json:"health_score"`
}

func emptyMeals() map[string]int {
	m := make(map[string]int, len(MealTypes))
	for _, t := range MealTypes {
		m[t] = 0
	}
	return m
}

// Days builds one row per calendar day in [start, end], including days
// with nothing recorded.
func Days(entries []Entry, start, end time.Time) []Day {
	byDate := map[string][]Entry{}
	for _, e := range entries {
		byDate[e.Date] = append(byDate[e.Date], e)
	}
	var out []Day
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(DateLayout)
		var totals Facts
		meals := emptyMeals()
		for _, e := range byDate[date] {
			totals.add(e.Facts)
			if _, ok := meals[e.MealType]; ok {
				meals[e.MealType]++
			}
		}
		analysis, warnings := Analyze(totals)
		out = append(out, Day{
			Date:               date,
			TotalCalories:      round(totals.Calories),
			TotalCarbohydrates: round(totals.Carbohydrates),
			TotalProtein:       round(totals.Protein),
			TotalFat:           round(totals.Fat),
			TotalFiber:         round(totals.Fiber),
			TotalSodium:        round(totals.Sodium),
			TotalSugar:         round(totals.Sugar),
			MealCount:          len(byDate[date]),
			MealsByType:        meals,
			NutrientAnalysis:   analysis,
			Warnings:           warnings,
			HealthScore:        HealthScore(analysis),
		})
	}
	return out
}

// PeriodStats averages over the days that have at least one meal.
type PeriodStats struct {
	AvgCalories      int     `json:"avg_calories"`
	AvgCarbohydrates int     `json:"avg_carbohydrates"`
	AvgProtein       int     `json:"avg_protein"`
	AvgFat           int     `json:"avg_fat"`
	AvgFiber         int     `json:"avg_fiber"`
	AvgSodium        int     `json:"avg_sodium"`
	AvgSugar         int     `json:"avg_sugar"`
	AvgMealCount     float64 `json:"avg_meal_count"`
	AvgHealthScore   int     `json:"avg_health_score"`
	TotalMeals       int     `json:"total_meals"`
	DaysRecorded     int     `json:"days_recorded"`
	TotalDays        int     `json:"total_days"`
}

func Period(days []Day) PeriodStats {
	var sum struct{ cal, carb, prot, fat, fib, sod, sug, meals, score int }
	recorded := 0
	for _, d := range days {
		if d.MealCount == 0 {
			continue
		}
		recorded++
		sum.cal += d.TotalCalories
		sum.carb += d.TotalCarbohydrates
		sum.prot += d.TotalProtein
		sum.fat += d.TotalFat
		sum.fib += d.TotalFiber
		sum.sod += d.TotalSodium
		sum.sug += d.TotalSugar
		sum.meals += d.MealCount
		sum.score += d.HealthScore
	}
	n := float64(max(recorded, 1))
	avg := func(v int) int { return round(float64(v) / n) }
	return PeriodStats{
		AvgCalories:      avg(sum.cal),
		AvgCarbohydrates: avg(sum.carb),
		AvgProtein:       avg(sum.prot),
		AvgFat:           avg(sum.fat),
		AvgFiber:         avg(sum.fib),
		AvgSodium:        avg(sum.sod),
		AvgSugar:         avg(sum.sug),
		AvgMealCount:     round1(float64(sum.meals) / n),
		AvgHealthScore:   avg(sum.score),
		TotalMeals:       sum.meals,
		DaysRecorded:     recorded,
		TotalDays:        len(days),
	}
}

func periodName(period string) string {
	switch period {
	case PeriodDay:
		return "오늘"
	case PeriodWeek:
		return "이번 주"
	default:
		return "이번 달"
	}
}

func percentOf(v int, rec float64) float64 { return float64(v) / rec * 100 }

// PeriodWarnings flags averages that stray from Daily.
func PeriodWarnings(p PeriodStats, period string) []string {
	name := periodName(period)
	out := []string{}
	if pct := percentOf(p.AvgCalories, Daily.Calories); pct < 70 {
		out = append(out, fmt.Sprintf("⚠️ %s 평균 칼로리 섭취량이 권장량의 %d%%로 부족합니다.", name, round(pct)))
	} else if pct > 130 {
		out = append(out, fmt.Sprintf("🔴 %s 평균 칼로리 섭취량이 권장량의 %d%%로 과다합니다.", name, round(pct)))
	}
	if pct := percentOf(p.AvgSodium, Daily.Sodium); pct > 100 {
		out = append(out, fmt.Sprintf("🔴 %s 평균 나트륨 섭취량이 권장량을 %d%% 초과했습니다. 짠 음식을 줄여주세요.", name, round(pct-100)))
	}
	if percentOf(p.AvgSugar, Daily.Sugar) > 100 {
		out = append(out, fmt.Sprintf("🔴 %s 평균 당류 섭취량이 권장량을 초과했습니다. 단 음식을 줄여주세요.", name))
	}
	if percentOf(p.AvgProtein, Daily.Protein) < 70 {
		out = append(out, fmt.Sprintf("⚠️ %s 평균 단백질 섭취량이 부족합니다. 육류, 생선, 콩류 섭취를 늘려주세요.", name))
	}
	if percentOf(p.AvgFiber, Daily.Fiber) < 70 {
		out = append(out, fmt.Sprintf("⚠️ %s 평균 식이섬유 섭취량이 부족합니다. 채소와 과일 섭취를 늘려주세요.", name))
	}
	if p.AvgMealCount < 2 {
		out = append(out, fmt.Sprintf("⚠️ 하루 평균 식사 횟수가 %s회로 적습니다. 규칙적인 식사가 필요합니다.", formatCount(p.AvgMealCount)))
	}
	return out
}

type Regularity struct {
	BreakfastRatio int `json:"breakfast_ratio"`
	LunchRatio     int `json:"lunch_ratio"`
	DinnerRatio    int `json:"dinner_ratio"`
	SnackRatio     int `json:"snack_ratio"`
	LateNightRatio int `json:"late_night_ratio"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type Patterns struct {
	MealRegularity        Regularity        `json:"meal_regularity"`
	FrequentCategories    []CategoryCount   `json:"frequent_categories"`
	AvgMealTime           map[string]string `json:"avg_meal_time"`
	EatingFrequencyByHour map[string]int    `json:"eating_frequency_by_hour"`
}

var mealTimeKeys = map[string]string{Breakfast: "breakfast", Lunch: "lunch", Dinner: "dinner"}

// EatingPatterns describes when and what a customer eats.
func EatingPatterns(entries []Entry) Patterns {
	p := Patterns{
		FrequentCategories:    []CategoryCount{},
		AvgMealTime:           map[string]string{"breakfast": "", "lunch": "", "dinner": ""},
		EatingFrequencyByHour: map[string]int{},
	}
	if len(entries) == 0 {
		return p
	}
	meals := emptyMeals()
	categories := map[string]int{}
	minutes := map[string][]int{}
	for _, e := range entries {
		if _, ok := meals[e.MealType]; ok {
			meals[e.MealType]++
		}
		category := e.Category
		if category == "" {
			category = "기타"
		}
		categories[category]++
		hour, minute, ok := clock(e.Time)
		if !ok {
			continue
		}
		p.EatingFrequencyByHour[fmt.Sprintf("%02d", hour)]++
		if key, tracked := mealTimeKeys[e.MealType]; tracked {
			minutes[key] = append(minutes[key], hour*60+minute)
		}
	}
	ratio := func(t string) int { return round(float64(meals[t]) / float64(len(entries)) * 100) }
	p.MealRegularity = Regularity{
		BreakfastRatio: ratio(Breakfast),
		LunchRatio:     ratio(Lunch),
		DinnerRatio:    ratio(Dinner),
		SnackRatio:     ratio(Snack),
		LateNightRatio: ratio(LateNight),
	}
	for c, n := range categories {
		p.FrequentCategories = append(p.FrequentCategories, CategoryCount{Category: c, Count: n})
	}
	slices.SortFunc(p.FrequentCategories, func(a, b CategoryCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), strings.Compare(a.Category, b.Category))
	})
	p.FrequentCategories = p.FrequentCategories[:min(len(p.FrequentCategories), 5)]
	for key, list := range minutes {
		total := 0
		for _, m := range list {
			total += m
		}
		avg := round(float64(total) / float64(len(list)))
		p.AvgMealTime[key] = fmt.Sprintf("%02d:%02d", avg/60, avg%60)
	}
	return p
}

func clock(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		if t, err = time.Parse("15:04", s); err != nil {
			return 0, 0, false
		}
	}
	return t.Hour(), t.Minute(), true
}

// Advice suggests concrete changes for a period.
func Advice(p PeriodStats, pat Patterns) []string {
	out := []string{}
	if pct := percentOf(p.AvgCalories, Daily.Calories); pct < 70 {
		out = append(out, "💡 영양가 높은 간식을 추가하거나 식사량을 늘려보세요.")
	} else if pct > 130 {
		out = append(out, "💡 음식의 양을 조금 줄이고, 저칼로리 음식으로 대체해보세요.")
	}
	if pat.MealRegularity.BreakfastRatio < 30 {
		out = append(out, "💡 아침 식사를 챙겨 드시면 신진대사와 집중력 향상에 도움이 됩니다.")
	}
	if pat.MealRegularity.LateNightRatio > 20 {
		out = append(out, "💡 야식 빈도가 높습니다. 저녁 식사를 충분히 하고 야식을 줄여보세요.")
	}
	if percentOf(p.AvgProtein, Daily.Protein) < 70 {
		out = append(out, "💡 달걀, 닭가슴살, 두부, 생선 등 단백질이 풍부한 음식을 추가해보세요.")
	}
	if percentOf(p.AvgFiber, Daily.Fiber) < 70 {
		out = append(out, "💡 현미, 잡곡, 채소, 과일 등 식이섬유가 풍부한 음식을 더 드세요.")
	}
	if percentOf(p.AvgSodium, Daily.Sodium) > 100 {
		out = append(out, "💡 국물 음식, 찌개, 라면 등 짠 음식을 줄이고 신선한 재료로 조리해보세요.")
	}
	if p.AvgMealCount < 3 {
		out = append(out, "💡 하루 3끼 규칙적인 식사는 건강한 신진대사에 중요합니다.")
	}
	return out
}
