package nutrition

import (
	"cmp"
	"fmt"
	"html/template"
	"slices"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatHTML = "html"
)

// Summary condenses recent meals for a pharmacist's consultation notes.
// Averages are per recorded day.
type Summary struct {
	TotalMeals           int            `json:"totalMeals"`
	DaysRecorded         int            `json:"daysRecorded"`
	AvgMealsPerDay       float64        `json:"avgMealsPerDay"`
	AvgCalories          int            `json:"avgCalories"`
	AvgCarbohydrates     int            `json:"avgCarbohydrates"`
	AvgProtein           int            `json:"avgProtein"`
	AvgFat               int            `json:"avgFat"`
	AvgFiber             int            `json:"avgFiber"`
	AvgSodium            int            `json:"avgSodium"`
	AvgSugar             int            `json:"avgSugar"`
	TopFoods             []string       `json:"topFoods"`
	FrequentFoods        []string       `json:"frequentFoods"`
	TopCategories        []string       `json:"topCategories"`
	MealTypeDistribution map[string]int `json:"mealTypeDistribution"`
}

type counted struct {
	name string
	n    int
}

func ranked(counts map[string]int, limit int) []counted {
	out := make([]counted, 0, len(counts))
	for name, n := range counts {
		out = append(out, counted{name, n})
	}
	slices.SortFunc(out, func(a, b counted) int {
		return cmp.Or(cmp.Compare(b.n, a.n), strings.Compare(a.name, b.name))
	})
	return out[:min(len(out), limit)]
}

func Summarize(entries []Entry) Summary {
	s := Summary{
		TopFoods:             []string{},
		FrequentFoods:        []string{},
		TopCategories:        []string{},
		MealTypeDistribution: emptyMeals(),
	}
	if len(entries) == 0 {
		return s
	}
	dates := map[string]bool{}
	foods := map[string]int{}
	categories := map[string]int{}
	var totals Facts
	for _, e := range entries {
		dates[e.Date] = true
		totals.add(e.Facts)
		if e.FoodName != "" {
			foods[e.FoodName]++
		}
		if e.Category != "" {
			categories[e.Category]++
		}
		if _, ok := s.MealTypeDistribution[e.MealType]; ok {
			s.MealTypeDistribution[e.MealType]++
		}
	}
	days := float64(len(dates))
	s.TotalMeals = len(entries)
	s.DaysRecorded = len(dates)
	s.AvgMealsPerDay = round1(float64(len(entries)) / days)
	s.AvgCalories = round(totals.Calories / days)
	s.AvgCarbohydrates = round(totals.Carbohydrates / days)
	s.AvgProtein = round(totals.Protein / days)
	s.AvgFat = round(totals.Fat / days)
	s.AvgFiber = round(totals.Fiber / days)
	s.AvgSodium = round(totals.Sodium / days)
	s.AvgSugar = round(totals.Sugar / days)
	for _, f := range ranked(foods, 5) {
		s.TopFoods = append(s.TopFoods, fmt.Sprintf("%s(%d회)", f.name, f.n))
		s.FrequentFoods = append(s.FrequentFoods, f.name)
	}
	for _, c := range ranked(categories, 3) {
		s.TopCategories = append(s.TopCategories, c.name)
	}
	return s
}

// PatientWarnings combines condition specific limits with general ones.
func PatientWarnings(s Summary, c Conditions) []string {
	out := []string{}
	if c.Diabetes {
		if s.AvgSugar > 30 {
			out = append(out, fmt.Sprintf("당뇨 환자: 당류 섭취량이 높습니다 (일평균 %dg)", s.AvgSugar))
		}
		if s.AvgCarbohydrates > 250 {
			out = append(out, "당뇨 환자: 탄수화물 섭취 주의 필요")
		}
	}
	if c.Hypertension && s.AvgSodium > 2000 {
		out = append(out, fmt.Sprintf("고혈압 환자: 나트륨 섭취 과다 (일평균 %dmg)", s.AvgSodium))
	}
	if c.KidneyDisease {
		if s.AvgProtein > 70 {
			out = append(out, "신장질환 환자: 단백질 섭취량 주의 필요")
		}
		if s.AvgSodium > 1500 {
			out = append(out, "신장질환 환자: 나트륨 제한 필요")
		}
	}
	if c.Obesity && s.AvgCalories > 2200 {
		out = append(out, fmt.Sprintf("체중관리: 칼로리 섭취 과다 (일평균 %dkcal)", s.AvgCalories))
	}
	if s.AvgSodium > 2300 {
		out = append(out, "나트륨 섭취 과다 주의")
	}
	if s.AvgFiber < 15 {
		out = append(out, "식이섬유 섭취 부족")
	}
	if s.AvgProtein < 40 {
		out = append(out, "단백질 섭취 부족")
	}
	if s.AvgMealsPerDay < 2 {
		out = append(out, "식사 횟수 부족 (불규칙한 식사)")
	}
	return out
}

func QuickAdvice(s Summary) []string {
	out := []string{}
	if s.AvgCalories < 1500 {
		out = append(out, "영양가 높은 식사량 증가 필요")
	} else if s.AvgCalories > 2500 {
		out = append(out, "식사량 조절 및 저칼로리 식품 선택 권장")
	}
	if s.AvgFiber < 20 {
		out = append(out, "채소, 과일, 잡곡 섭취 권장")
	}
	if s.AvgProtein < 50 {
		out = append(out, "단백질 섭취 증가 필요 (육류, 생선, 콩류)")
	}
	if s.AvgSodium > 2000 {
		out = append(out, "짠 음식 섭취 줄이기 권장")
	}
	if s.MealTypeDistribution[Breakfast] == 0 {
		out = append(out, "아침 식사 섭취 권장")
	}
	if s.MealTypeDistribution[LateNight] > 3 {
		out = append(out, "야식 줄이기 권장")
	}
	return out
}

// Report is a rendered summary ready to paste into a consultation.
type Report struct {
	Name            string
	Days            int
	Summary         Summary
	Warnings        []string
	Recommendations []string
}

func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s님 영양 분석 요약 (최근 %d일) ===\n\n", r.Name, r.Days)
	s := r.Summary
	if s.TotalMeals == 0 {
		b.WriteString("※ 등록된 식사 기록이 없습니다.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "[기록 현황]\n• 총 식사 기록: %d끼\n• 기록된 날: %d일\n• 일평균 식사: %s끼\n\n",
		s.TotalMeals, s.DaysRecorded, formatCount(s.AvgMealsPerDay))

	b.WriteString("[일평균 영양 섭취량]\n")
	fmt.Fprintf(&b, "• 칼로리: %d kcal (권장 %d)\n", s.AvgCalories, round(Daily.Calories))
	fmt.Fprintf(&b, "• 탄수화물: %dg (권장 %dg)\n", s.AvgCarbohydrates, round(Daily.Carbohydrates))
	fmt.Fprintf(&b, "• 단백질: %dg (권장 %dg)\n", s.AvgProtein, round(Daily.Protein))
	fmt.Fprintf(&b, "• 지방: %dg (권장 %dg)\n", s.AvgFat, round(Daily.Fat))
	fmt.Fprintf(&b, "• 나트륨: %dmg (권장 %dmg 이하)\n", s.AvgSodium, round(Daily.Sodium))
	fmt.Fprintf(&b, "• 식이섬유: %dg (권장 %dg)\n", s.AvgFiber, round(Daily.Fiber))
	fmt.Fprintf(&b, "• 당류: %dg (권장 %dg 이하)\n\n", s.AvgSugar, round(Daily.Sugar))

	if len(s.TopFoods) > 0 {
		fmt.Fprintf(&b, "[자주 섭취한 음식]\n• %s\n\n", strings.Join(s.TopFoods, ", "))
	}

	b.WriteString("[식사 분포]\n")
	for _, m := range MealTypes {
		if m == LateNight && s.MealTypeDistribution[m] == 0 {
			continue
		}
		fmt.Fprintf(&b, "• %s: %d회\n", m, s.MealTypeDistribution[m])
	}
	b.WriteString("\n")

	if len(r.Warnings) > 0 {
		b.WriteString("[주의사항]\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "⚠️ %s\n", w)
		}
		b.WriteString("\n")
	}
	if len(r.Recommendations) > 0 {
		b.WriteString("[권장사항]\n")
		for i, rec := range r.Recommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
		}
	}
	return b.String()
}

var reportHTML = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": strings.Join,
	"count": formatCount,
}).Parse(`<div style="padding: 16px; border: 1px solid #e5e7eb; border-radius: 8px; background: #f9fafb;">` +
	`<h3 style="margin: 0 0 12px 0; color: #1e40af;">🥗 {{.Name}}님 영양 분석 (최근 {{.Days}}일)</h3>` +
	`{{if eq .Summary.TotalMeals 0}}<p style="color: #6b7280;">등록된 식사 기록이 없습니다.</p>{{else}}` +
	`<div style="display: grid; grid-template-columns: repeat(3, 1fr); gap: 8px; margin-bottom: 12px;">` +
	`<div style="text-align: center; padding: 8px; background: white; border-radius: 4px;"><div style="font-size: 20px; font-weight: bold; color: #1e40af;">{{.Summary.AvgCalories}}</div><div style="font-size: 11px; color: #6b7280;">평균 칼로리</div></div>` +
	`<div style="text-align: center; padding: 8px; background: white; border-radius: 4px;"><div style="font-size: 20px; font-weight: bold; color: #059669;">{{.Summary.TotalMeals}}</div><div style="font-size: 11px; color: #6b7280;">총 식사</div></div>` +
	`<div style="text-align: center; padding: 8px; background: white; border-radius: 4px;"><div style="font-size: 20px; font-weight: bold; color: #7c3aed;">{{count .Summary.AvgMealsPerDay}}</div><div style="font-size: 11px; color: #6b7280;">일평균 식사</div></div>` +
	`</div>` +
	`{{if .Warnings}}<div style="background: #fef3c7; padding: 8px; border-radius: 4px; margin-bottom: 8px;"><strong style="color: #92400e;">⚠️ 주의:</strong> <span style="color: #78350f; font-size: 13px;">{{join .Warnings " / "}}</span></div>{{end}}` +
	`{{if .Recommendations}}<div style="background: #dbeafe; padding: 8px; border-radius: 4px;"><strong style="color: #1e40af;">💡 권장:</strong> <span style="color: #1e3a8a; font-size: 13px;">{{join .Recommendations " / "}}</span></div>{{end}}` +
	`{{end}}</div>`))

// HTML renders the report as an inline-styled card. Customer supplied text
// is escaped.
func (r Report) HTML() (string, error) {
	var b strings.Builder
	if err := reportHTML.Execute(&b, r); err != nil {
		return "", err
	}
	return b.String(), nil
}
