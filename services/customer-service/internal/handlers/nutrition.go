package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/nutrition"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

const (
	msgBadPeriod       = "기간은 day, week, month 중 하나여야 합니다"
	msgBadSummaryDays  = "days 값은 1에서 365 사이여야 합니다"
	msgBadFormat       = "format은 text, json, html 중 하나여야 합니다"
	msgNoCustomerInfo  = "고객 정보를 찾을 수 없습니다"
	msgNutritionFailed = "영양 분석 중 오류가 발생했습니다"
	summaryDefaultDays = 7
	summaryMaxDays     = 365
	adviceConsultCount = 5
	adviceFoodDays     = 7
	detailedPortion    = 100
)

// entries flattens stored records into what the nutrition package reads.
func entries(records []storage.FoodRecord) []nutrition.Entry {
	out := make([]nutrition.Entry, 0, len(records))
	for _, f := range records {
		out = append(out, nutrition.Entry{
			Date:     f.RecordedDate.Format(nutrition.DateLayout),
			Time:     f.RecordedTime,
			MealType: f.MealType,
			FoodName: f.FoodName,
			Category: f.FoodCategory,
			Facts:    nutrition.ReadFacts(f.ActualCalories, f.NutritionalInfo, f.GeminiAnalysis),
		})
	}
	return out
}

// today is the pharmacy's calendar date as a UTC midnight.
func (h *Handler) today() time.Time {
	now := h.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// NutritionStats reports daily intake over a day, week or month ending on
// the requested date.
func (h *Handler) NutritionStats(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	customerID, ok := customerScope(w, r, q.Get("customerId"))
	if !ok {
		return
	}
	period := strings.TrimSpace(q.Get("period"))
	if period == "" {
		period = nutrition.PeriodDay
	}
	if period != nutrition.PeriodDay && period != nutrition.PeriodWeek && period != nutrition.PeriodMonth {
		httpx.WriteError(w, http.StatusBadRequest, msgBadPeriod)
		return
	}
	target := h.today()
	if s := strings.TrimSpace(q.Get("date")); s != "" {
		d, err := time.Parse(nutrition.DateLayout, s)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, msgBadDate)
			return
		}
		target = d
	}
	start, end := nutrition.Range(target, period)
	records, err := h.repo.FoodBetween(r.Context(), customerID, start, end)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	list := entries(records)
	days := nutrition.Days(list, start, end)
	stats := nutrition.Period(days)
	patterns := nutrition.EatingPatterns(list)
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"period":            period,
		"startDate":         start.Format(nutrition.DateLayout),
		"endDate":           end.Format(nutrition.DateLayout),
		"dailyStats":        days,
		"periodStats":       stats,
		"nutritionWarnings": nutrition.PeriodWarnings(stats, period),
		"eatingPatterns":    patterns,
		"recommendations":   nutrition.Advice(stats, patterns),
	})
}

// NutritionSummary renders recent intake for consultation notes as text,
// JSON or an HTML card.
func (h *Handler) NutritionSummary(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	customerID, ok := customerScope(w, r, q.Get("customerId"))
	if !ok {
		return
	}
	days := summaryDefaultDays
	if s := strings.TrimSpace(q.Get("days")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > summaryMaxDays {
			httpx.WriteError(w, http.StatusBadRequest, msgBadSummaryDays)
			return
		}
		days = n
	}
	format := strings.TrimSpace(q.Get("format"))
	if format == "" {
		format = nutrition.FormatText
	}
	if format != nutrition.FormatText && format != nutrition.FormatJSON && format != nutrition.FormatHTML {
		httpx.WriteError(w, http.StatusBadRequest, msgBadFormat)
		return
	}
	if !knownID(w, customerID, msgNoCustomerInfo) {
		return
	}
	ctx := r.Context()
	c, err := h.repo.GetCustomer(ctx, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomerInfo)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	today := h.today()
	records, err := h.repo.FoodBetween(ctx, customerID, today.AddDate(0, 0, -days), today)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	summary := nutrition.Summarize(entries(records))
	conditions := nutrition.ParseConditions(append([]string{c.SpecialNotes}, c.HealthConditions...)...)
	report := nutrition.Report{
		Name:            c.Name,
		Days:            days,
		Summary:         summary,
		Warnings:        nutrition.PatientWarnings(summary, conditions),
		Recommendations: nutrition.QuickAdvice(summary),
	}

	if format == nutrition.FormatJSON {
		httpx.WriteData(w, http.StatusOK, map[string]any{"summary": map[string]any{
			"customer":        map[string]any{"id": c.ID, "name": c.Name, "code": c.CustomerCode},
			"period":          "최근 " + strconv.Itoa(days) + "일",
			"stats":           summary,
			"warnings":        report.Warnings,
			"recommendations": report.Recommendations,
		}})
		return
	}
	text := report.Text()
	if format == nutrition.FormatHTML {
		if text, err = report.HTML(); err != nil {
			httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
			return
		}
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"summary":         text,
		"stats":           summary,
		"warnings":        report.Warnings,
		"recommendations": report.Recommendations,
	})
}

// NutritionRecommendations asks the model for diet advice built from recent
// consultations and a week of meals.
func (h *Handler) NutritionRecommendations(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	customerID, ok := customerScope(w, r, r.URL.Query().Get("customerId"))
	if !ok {
		return
	}
	if h.model == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, msgAIUnavailable)
		return
	}
	if !knownID(w, customerID, msgNoCustomerInfo) {
		return
	}
	ctx := r.Context()
	c, err := h.repo.GetCustomer(ctx, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomerInfo)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	consultations, err := h.repo.RecentConsultations(ctx, customerID, adviceConsultCount)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	today := h.today()
	records, err := h.repo.FoodBetween(ctx, customerID, today.AddDate(0, 0, -adviceFoodDays), today)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	summary := nutrition.Summarize(entries(records))
	visits := make([]nutrition.Visit, 0, len(consultations))
	for _, v := range consultations {
		visits = append(visits, nutrition.Visit{
			ConsultDate:      v.ConsultDate,
			Symptoms:         v.Symptoms,
			PatientCondition: v.PatientCondition,
			Prescription:     v.Prescription,
			SpecialNotes:     v.SpecialNotes,
			Result:           v.Result,
		})
	}
	prompt := nutrition.RecommendationPrompt(nutrition.Patient{
		Name:             c.Name,
		EstimatedAge:     c.EstimatedAge,
		Gender:           c.Gender,
		SpecialNotes:     c.SpecialNotes,
		HealthConditions: c.HealthConditions,
	}, visits, summary)
	reply, err := h.model.Text(ctx, prompt)
	if err != nil {
		httpx.Fail(w, r, h.logger, "권장사항 생성 중 오류가 발생했습니다", err)
		return
	}
	var recs nutrition.Recommendations
	if err := gemini.DecodeJSON(reply, &recs); err != nil {
		h.logger.Warn("recommendation reply unreadable", "customer", customerID, "err", err)
		recs = nutrition.DefaultRecommendations()
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"customer": map[string]any{
			"id":                c.ID,
			"name":              c.Name,
			"health_conditions": c.HealthConditions,
		},
		"nutritionSummary": summary,
		"recommendations":  recs,
		"generatedAt":      h.clock.Now().UTC(),
	})
}

// NutritionAnalyze records a photographed meal with a full nutrient
// breakdown and warnings for the customer's conditions.
func (h *Handler) NutritionAnalyze(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Image      string `json:"image"`
		CustomerID string `json:"customerId"`
		MealType   string `json:"mealType"`
		ConsumedAt string `json:"consumedAt"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Image) == "" || strings.TrimSpace(req.CustomerID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgFoodInput)
		return
	}
	customerID, ok := customerScope(w, r, req.CustomerID)
	if !ok {
		return
	}
	data, mime, ok := mealImage(w, req.Image)
	if !ok {
		return
	}
	if h.model == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, msgAIUnavailable)
		return
	}
	if !knownID(w, customerID, msgNoCustomerInfo) {
		return
	}
	ctx := r.Context()
	c, err := h.repo.GetCustomer(ctx, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomerInfo)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgNutritionFailed, err)
		return
	}
	reply, err := h.model.Text(ctx, nutrition.DetailedPrompt, gemini.Blob{Data: data, MIMEType: mime})
	if err != nil {
		httpx.Fail(w, r, h.logger, "음식 분석 중 오류가 발생했습니다", err)
		return
	}
	detailed, err := nutrition.ParseDetailed(reply)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgFoodParse, err)
		return
	}
	conditions := nutrition.ParseConditions(append([]string{c.SpecialNotes}, c.HealthConditions...)...)
	custom := nutrition.CustomWarnings(detailed, conditions)
	info := nutrition.NewRecordInfo(detailed, custom)

	now := h.now()
	consumed := now
	if s := strings.TrimSpace(req.ConsumedAt); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			consumed = t.In(KST)
		}
	}
	mealType := strings.TrimSpace(req.MealType)
	if !nutrition.IsMealType(mealType) {
		mealType = nutrition.MealSlot(consumed, KST)
	}
	imageURL := h.uploadFood(ctx, customerID, data, now)
	calories := float64(detailed.Nutrition.Calories)
	portion := detailedPortion
	record, err := h.repo.CreateFood(ctx, storage.FoodRecord{
		CustomerID:      customerID,
		FoodName:        detailed.FoodName,
		FoodDescription: detailed.FoodDescription,
		FoodCategory:    detailed.FoodCategory,
		ImageURL:        imageURL,
		ConfidenceScore: float64(detailed.Confidence),
		MealType:        mealType,
		PortionConsumed: &portion,
		ActualCalories:  &calories,
		NutritionalInfo: info.JSON(),
		ConsumedAt:      &consumed,
	}, consumed)
	if err != nil {
		if imageURL != "" {
			h.removeImages(ctx, FoodBucket, []string{imageURL})
		}
		httpx.Fail(w, r, h.logger, "음식 기록 저장에 실패했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"record":         record,
		"analysis":       detailed,
		"customWarnings": custom,
		"conditions":     conditions,
	})
}
