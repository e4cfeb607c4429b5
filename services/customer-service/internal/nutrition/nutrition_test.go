package nutrition

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var kst = time.FixedZone("KST", 9*60*60)

func TestMealSlot(t *testing.T) {
	cases := map[int]string{
		1: LateNight, 2: Snack, 6: Breakfast, 10: Snack, 11: Lunch,
		15: Snack, 17: Dinner, 20: Dinner, 21: LateNight, 23: LateNight,
	}
	for hour, want := range cases {
		if got := MealSlot(time.Date(2026, 6, 1, hour, 10, 0, 0, kst), kst); got != want {
			t.Errorf("hour %d: got %q want %q", hour, got, want)
		}
	}
}

func TestReadFacts(t *testing.T) {
	stored := json.RawMessage(`{"calories": "450", "protein": 20, "sodium": null, "fat": "많음"}`)
	if diff := cmp.Diff(Facts{Calories: 450, Protein: 20}, ReadFacts(nil, stored, nil)); diff != "" {
		t.Fatalf("stored facts (-want +got):\n%s", diff)
	}
	actual := 300.0
	if got := ReadFacts(&actual, stored, nil); got.Calories != 300 {
		t.Fatalf("actual calories should win, got %v", got.Calories)
	}
	analysis := json.RawMessage(`{"food_name": "김밥", "nutrition": {"calories": 500, "fat": 12}}`)
	if diff := cmp.Diff(Facts{Calories: 500, Fat: 12}, ReadFacts(nil, nil, analysis)); diff != "" {
		t.Fatalf("analysis facts (-want +got):\n%s", diff)
	}
	zero := 0.0
	if got := ReadFacts(&zero, nil, analysis); got.Calories != 500 {
		t.Fatalf("zero actual calories must not override, got %v", got.Calories)
	}
}

func TestAnalyzeAndHealthScore(t *testing.T) {
	analysis, warnings := Analyze(Facts{
		Calories: 1000, Carbohydrates: 150, Protein: 65, Fat: 100, Fiber: 10, Sodium: 2500, Sugar: 50,
	})
	want := []string{
		"칼로리 섭취가 부족합니다 (50%)",
		"지방 섭취가 과다합니다 (154%)",
		"식이섬유 섭취가 부족합니다 (40%)",
		"나트륨 섭취가 권장량을 초과했습니다 (125%)",
	}
	if diff := cmp.Diff(want, warnings); diff != "" {
		t.Fatalf("warnings (-want +got):\n%s", diff)
	}
	if analysis["sugar"].Status != Normal || analysis["carbohydrates"].Status != Normal {
		t.Fatalf("boundary values must stay normal: %+v", analysis)
	}
	if got := HealthScore(analysis); got != 50 {
		t.Fatalf("health score %d", got)
	}
}

func TestRange(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			t.Fatal(err)
		}
		return d
	}
	cases := []struct {
		target, period, start string
	}{
		{"2026-06-01", PeriodDay, "2026-06-01"},
		{"2026-06-01", PeriodWeek, "2026-05-26"},
		{"2026-06-15", PeriodMonth, "2026-05-16"},
		{"2026-03-31", PeriodMonth, "2026-03-01"},
	}
	for _, tc := range cases {
		start, end := Range(day(tc.target), tc.period)
		if start.Format(DateLayout) != tc.start || end.Format(DateLayout) != tc.target {
			t.Errorf("%s %s: got %s..%s", tc.period, tc.target, start.Format(DateLayout), end.Format(DateLayout))
		}
	}
}

func sampleEntries() []Entry {
	return []Entry{
		{Date: "2026-05-30", Time: "08:00:00", MealType: Breakfast, FoodName: "토스트", Category: "양식", Facts: Facts{Calories: 500}},
		{Date: "2026-05-30", Time: "12:30:00", MealType: Lunch, FoodName: "김치찌개", Category: "한식", Facts: Facts{Calories: 700}},
		{Date: "2026-06-01", Time: "09:00:00", MealType: Breakfast, FoodName: "김치찌개", Category: "한식", Facts: Facts{Calories: 300}},
		{Date: "2026-06-01", Time: "19:00:00", MealType: Dinner, FoodName: "샐러드", Facts: Facts{Calories: 500}},
	}
}

func TestDaysAndPeriod(t *testing.T) {
	start := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)
	days := Days(sampleEntries(), start, start.AddDate(0, 0, 2))
	if len(days) != 3 || days[1].Date != "2026-05-31" || days[1].MealCount != 0 {
		t.Fatalf("expected an empty middle day, got %+v", days)
	}
	if days[0].TotalCalories != 1200 || days[0].MealsByType[Lunch] != 1 || days[0].MealsByType[LateNight] != 0 {
		t.Fatalf("unexpected first day %+v", days[0])
	}

	p := Period(days)
	want := PeriodStats{AvgCalories: 1000, AvgMealCount: 2, TotalMeals: 4, DaysRecorded: 2, TotalDays: 3,
		AvgHealthScore: (days[0].HealthScore + days[2].HealthScore) / 2}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("period (-want +got):\n%s", diff)
	}
	warnings := PeriodWarnings(p, PeriodWeek)
	if len(warnings) != 3 || warnings[0] != "⚠️ 이번 주 평균 칼로리 섭취량이 권장량의 50%로 부족합니다." {
		t.Fatalf("unexpected warnings %q", warnings)
	}
}

func TestEatingPatterns(t *testing.T) {
	p := EatingPatterns(sampleEntries())
	if diff := cmp.Diff(Regularity{BreakfastRatio: 50, LunchRatio: 25, DinnerRatio: 25}, p.MealRegularity); diff != "" {
		t.Fatalf("regularity (-want +got):\n%s", diff)
	}
	wantCategories := []CategoryCount{{"한식", 2}, {"기타", 1}, {"양식", 1}}
	if diff := cmp.Diff(wantCategories, p.FrequentCategories); diff != "" {
		t.Fatalf("categories (-want +got):\n%s", diff)
	}
	wantTimes := map[string]string{"breakfast": "08:30", "lunch": "12:30", "dinner": "19:00"}
	if diff := cmp.Diff(wantTimes, p.AvgMealTime); diff != "" {
		t.Fatalf("meal times (-want +got):\n%s", diff)
	}
	if p.EatingFrequencyByHour["08"] != 1 || p.EatingFrequencyByHour["19"] != 1 {
		t.Fatalf("hourly frequency %v", p.EatingFrequencyByHour)
	}
	advice := Advice(Period(Days(sampleEntries(), time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))), p)
	if len(advice) == 0 || advice[0] != "💡 영양가 높은 간식을 추가하거나 식사량을 늘려보세요." {
		t.Fatalf("unexpected advice %q", advice)
	}
}

func TestSummarizeAndWarnings(t *testing.T) {
	entries := []Entry{
		{Date: "2026-05-30", MealType: Lunch, FoodName: "김치찌개", Category: "한식", Facts: Facts{Calories: 500, Sodium: 1800}},
		{Date: "2026-05-30", MealType: Dinner, FoodName: "비빔밥", Category: "한식", Facts: Facts{Calories: 600, Sodium: 900}},
		{Date: "2026-05-31", MealType: Lunch, FoodName: "김치찌개", Category: "한식", Facts: Facts{Calories: 500, Sodium: 1800}},
	}
	s := Summarize(entries)
	if s.AvgCalories != 800 || s.AvgSodium != 2250 || s.AvgMealsPerDay != 1.5 || s.DaysRecorded != 2 {
		t.Fatalf("unexpected averages %+v", s)
	}
	if diff := cmp.Diff([]string{"김치찌개(2회)", "비빔밥(1회)"}, s.TopFoods); diff != "" {
		t.Fatalf("top foods (-want +got):\n%s", diff)
	}
	if s.MealTypeDistribution[Lunch] != 2 || s.MealTypeDistribution[Breakfast] != 0 {
		t.Fatalf("distribution %v", s.MealTypeDistribution)
	}

	warnings := PatientWarnings(s, Conditions{Hypertension: true})
	want := []string{
		"고혈압 환자: 나트륨 섭취 과다 (일평균 2250mg)",
		"식이섬유 섭취 부족",
		"단백질 섭취 부족",
		"식사 횟수 부족 (불규칙한 식사)",
	}
	if diff := cmp.Diff(want, warnings); diff != "" {
		t.Fatalf("warnings (-want +got):\n%s", diff)
	}
	advice := QuickAdvice(s)
	if len(advice) != 5 || advice[len(advice)-1] != "아침 식사 섭취 권장" {
		t.Fatalf("unexpected advice %q", advice)
	}
}

func TestReportRendering(t *testing.T) {
	empty := Report{Name: "홍길동", Days: 7, Summary: Summarize(nil)}
	text := empty.Text()
	if !strings.HasPrefix(text, "=== 홍길동님 영양 분석 요약 (최근 7일) ===") || !strings.Contains(text, "등록된 식사 기록이 없습니다") {
		t.Fatalf("unexpected text %q", text)
	}

	r := Report{Name: "<b>홍</b>", Days: 30, Summary: Summarize(sampleEntries()), Warnings: []string{"단백질 섭취 부족"}}
	html, err := r.HTML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<b>홍</b>") || !strings.Contains(html, "&lt;b&gt;홍&lt;/b&gt;") {
		t.Fatalf("name must be escaped: %s", html)
	}
	if !strings.Contains(html, "단백질 섭취 부족") || strings.Contains(html, "💡 권장") {
		t.Fatalf("unexpected sections: %s", html)
	}
}

func TestDetailedAnalysis(t *testing.T) {
	d, err := ParseDetailed("```json\n" + `{"food_name": "곱창전골", "nutrition": {"calories": 650, "sodium": "900"},
		"hypertension_friendly": false}` + "\n```")
	if err != nil {
		t.Fatal(err)
	}
	if d.Confidence != 0.5 || len(d.HealthWarnings) != 0 {
		t.Fatalf("defaults not applied: %+v", d)
	}
	c := ParseConditions("고혈압 약 복용 중", "통풍")
	if !c.Hypertension || !c.Gout || c.Diabetes {
		t.Fatalf("unexpected conditions %+v", c)
	}
	custom := CustomWarnings(d, c)
	want := []string{
		"⚠️ 고혈압 주의: 나트륨 함량이 높습니다 (900mg).",
		"⚠️ 고혈압 환자에게 권장하지 않는 음식입니다.",
		"⚠️ 통풍 주의: 퓨린 함량이 높을 수 있는 음식입니다.",
	}
	if diff := cmp.Diff(want, custom); diff != "" {
		t.Fatalf("custom warnings (-want +got):\n%s", diff)
	}

	info := NewRecordInfo(d, custom)
	if diff := cmp.Diff(custom, info.HealthWarnings); diff != "" {
		t.Fatalf("health warnings (-want +got):\n%s", diff)
	}
	if got := ReadFacts(nil, info.JSON(), nil); got.Calories != 650 || got.Sodium != 900 {
		t.Fatalf("stored info must read back, got %+v", got)
	}

	if _, err := ParseDetailed("음식이 아닙니다"); err == nil {
		t.Fatal("expected error for non-json reply")
	}
}

func TestRecommendationPrompt(t *testing.T) {
	age := 62
	prompt := RecommendationPrompt(Patient{Name: "홍길동", EstimatedAge: &age, HealthConditions: []string{"당뇨"}},
		nil, Summarize(nil))
	for _, want := range []string{"- 추정 나이: 62세", "- 성별: 미상", "- 건강 상태: 당뇨", "상담 기록이 없습니다."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if d := DefaultRecommendations(); len(d.PriorityActions) == 0 || d.ConditionSpecificAdvice == nil {
		t.Fatalf("default recommendations incomplete: %+v", d)
	}
}
