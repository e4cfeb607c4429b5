package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/food"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/lifestyle"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

const (
	msgAIUnavailable   = "AI 기능을 사용할 수 없습니다"
	msgFoodInput       = "이미지와 고객 ID가 필요합니다"
	msgFoodParse       = "AI 분석 결과를 처리하는데 실패했습니다"
	msgFoodIDRequired  = "음식 기록 ID가 필요합니다"
	msgBadDate         = "날짜는 YYYY-MM-DD 형식이어야 합니다"
	msgNoFood          = "해당 ID의 음식 기록이 존재하지 않습니다"
	msgLifestyleFailed = "생활 관리 팁 생성 중 오류가 발생했습니다"
	tipsConsultations  = 3
	tipsMeals          = 5
)

func (h *Handler) AnalyzeFood(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Image      string `json:"image"`
		CustomerID string `json:"customerId"`
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
	ctx := r.Context()
	reply, err := h.model.Text(ctx, food.Prompt, gemini.Blob{Data: data, MIMEType: mime})
	if err != nil {
		httpx.Fail(w, r, h.logger, "음식 분석 중 오류가 발생했습니다", err)
		return
	}
	analysis, err := food.Parse(reply)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgFoodParse, err)
		return
	}

	now := h.now()
	imageURL := h.uploadFood(ctx, customerID, data, now)
	raw, _ := json.Marshal(analysis)
	record, err := h.repo.CreateFood(ctx, storage.FoodRecord{
		CustomerID:      customerID,
		FoodName:        analysis.FoodName,
		FoodDescription: analysis.FoodDescription,
		FoodCategory:    analysis.FoodCategory,
		ImageURL:        imageURL,
		ConfidenceScore: analysis.Confidence,
		GeminiAnalysis:  raw,
		MealType:        food.MealType(now, KST),
	}, now)
	if err != nil {
		if imageURL != "" {
			h.removeImages(ctx, FoodBucket, []string{imageURL})
		}
		httpx.Fail(w, r, h.logger, "음식 기록 저장에 실패했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"recordId": record.ID,
		"analysis": analysis,
		"imageUrl": imageURL,
		"record":   record,
	})
}

// mealImage decodes a base64 or data URL photo, answering 400 when it is
// empty or unreadable.
func mealImage(w http.ResponseWriter, image string) ([]byte, string, bool) {
	data, mime, err := objstore.DecodeDataURL(image)
	if err != nil || len(data) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgFoodInput)
		return nil, "", false
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, true
}

// uploadFood stores a meal photo and returns its public URL. A failed upload
// is logged and the meal is recorded without a photo.
func (h *Handler) uploadFood(ctx context.Context, customerID string, data []byte, now time.Time) string {
	if h.store == nil {
		return ""
	}
	path := fmt.Sprintf("%s/food_%d_%s.jpg", customerID, now.UnixMilli(), uuid.NewString()[:8])
	url, err := h.store.Upload(ctx, FoodBucket, path, data, "image/jpeg")
	if err != nil {
		h.logger.Warn("food image upload failed", "customer", customerID, "err", err)
		return ""
	}
	return url
}

func (h *Handler) FoodRecords(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	customerID, ok := customerScope(w, r, q.Get("customerId"))
	if !ok {
		return
	}
	var day *time.Time
	if s := strings.TrimSpace(q.Get("date")); s != "" {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, msgBadDate)
			return
		}
		day = &d
	}
	records, err := h.repo.ListFood(r.Context(), customerID, day)
	if err != nil {
		httpx.Fail(w, r, h.logger, "음식 기록 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"records": records, "total": len(records)})
}

func (h *Handler) FoodRecord(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("recordId"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgFoodIDRequired)
		return
	}
	if !knownID(w, id, msgNoFood) {
		return
	}
	record, err := h.repo.GetFood(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && actor.IsCustomer() && record.CustomerID != actor.ID) {
		httpx.WriteError(w, http.StatusNotFound, msgNoFood)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "음식 기록 조회 중 오류가 발생했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"record": record})
}

func (h *Handler) DeleteFood(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodDelete) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")
	if !knownID(w, id, msgNoFood) {
		return
	}
	if actor.IsCustomer() {
		record, err := h.repo.GetFood(ctx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && record.CustomerID != actor.ID) {
			httpx.WriteError(w, http.StatusNotFound, msgNoFood)
			return
		}
		if err != nil {
			httpx.Fail(w, r, h.logger, "음식 기록 삭제 중 오류가 발생했습니다", err)
			return
		}
	}
	record, err := h.repo.DeleteFood(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoFood)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "음식 기록 삭제 중 오류가 발생했습니다", err)
		return
	}
	if record.ImageURL != "" {
		h.removeImages(ctx, FoodBucket, []string{record.ImageURL})
	}
	httpx.WriteMessage(w, http.StatusOK, "음식 기록이 삭제되었습니다", nil)
}

// Lifestyle returns personalised tips, cached per customer.
func (h *Handler) Lifestyle(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		CustomerID string `json:"customerId"`
	}
	if !decode(w, r, &body) {
		return
	}
	customerID, ok := customerScope(w, r, body.CustomerID)
	if !ok {
		return
	}
	ctx := r.Context()
	tips, cached, err := h.advisor.Tips(ctx, customerID, func(ctx context.Context) (lifestyle.Profile, error) {
		return h.profile(ctx, customerID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgLifestyleFailed, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"tips":         tips,
		"generated_at": h.clock.Now().UTC(),
		"cached":       cached,
	})
}

func (h *Handler) profile(ctx context.Context, customerID string) (lifestyle.Profile, error) {
	c, err := h.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return lifestyle.Profile{}, err
	}
	consultations, err := h.repo.RecentConsultations(ctx, customerID, tipsConsultations)
	if err != nil {
		return lifestyle.Profile{}, err
	}
	meals, err := h.repo.RecentFood(ctx, customerID, tipsMeals)
	if err != nil {
		return lifestyle.Profile{}, err
	}
	p := lifestyle.Profile{
		Name:          c.Name,
		Gender:        c.Gender,
		EstimatedAge:  c.EstimatedAge,
		SpecialNotes:  c.SpecialNotes,
		Consultations: adviceConsultations(consultations),
	}
	for _, m := range meals {
		p.Meals = append(p.Meals, lifestyle.Meal{RecordedDate: m.RecordedDate, MealType: m.MealType, FoodName: m.FoodName})
	}
	return p, nil
}

const (
	msgSessionInput  = "세션 ID, 답변, 고객 ID가 필요합니다"
	msgNoSession     = "분석 세션을 찾을 수 없습니다"
	msgSessionClosed = "이미 처리된 분석 세션입니다"
)

// AnalyzeWithQuestions looks at a meal photo and opens a session holding the
// follow-up questions the customer still has to answer.
func (h *Handler) AnalyzeWithQuestions(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Image      string `json:"image"`
		CustomerID string `json:"customerId"`
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
	ctx := r.Context()
	reply, err := h.model.Text(ctx, food.QuestionPrompt, gemini.Blob{Data: data, MIMEType: mime})
	if err != nil {
		httpx.Fail(w, r, h.logger, "음식 분석 중 오류가 발생했습니다", err)
		return
	}
	assessment, err := food.ParseAssessment(reply)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgFoodParse, err)
		return
	}
	questions := food.Questions(assessment)

	imageURL := h.uploadFood(ctx, customerID, data, h.now())
	rawAssessment, _ := json.Marshal(assessment)
	rawQuestions, _ := json.Marshal(questions)
	session, err := h.repo.CreateFoodSession(ctx, customerID, imageURL, rawAssessment, rawQuestions)
	if err != nil {
		if imageURL != "" {
			h.removeImages(ctx, FoodBucket, []string{imageURL})
		}
		httpx.Fail(w, r, h.logger, "분석 세션 생성에 실패했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"sessionId": session.ID,
		"imageUrl":  imageURL,
		"analysis": map[string]any{
			"food_name":          assessment.FoodName,
			"food_category":      assessment.FoodCategory,
			"confidence":         assessment.Confidence,
			"estimated_calories": assessment.BaseCalories(),
			"questions":          questions,
		},
	})
}

// SubmitAnswers closes an analysis session with the customer's replies and
// stores the resulting food record.
func (h *Handler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		SessionID  string        `json:"sessionId"`
		Answers    []food.Answer `json:"answers"`
		CustomerID string        `json:"customerId"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || req.Answers == nil || strings.TrimSpace(req.CustomerID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgSessionInput)
		return
	}
	customerID, ok := customerScope(w, r, req.CustomerID)
	if !ok {
		return
	}
	if !knownID(w, req.SessionID, msgNoSession) {
		return
	}
	ctx := r.Context()
	session, err := h.repo.GetFoodSession(ctx, req.SessionID, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoSession)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "분석 세션 조회에 실패했습니다", err)
		return
	}
	if session.Status != storage.SessionPending {
		httpx.WriteError(w, http.StatusConflict, msgSessionClosed)
		return
	}
	assessment, err := food.ParseAssessment(string(session.AnalysisResult))
	if err != nil {
		httpx.Fail(w, r, h.logger, msgFoodParse, err)
		return
	}

	now := h.now()
	answers := food.ProcessAnswers(req.Answers, now, KST)
	final := food.Finalize(assessment, answers, now, KST)
	consumed := final.ConsumedAt.In(KST)
	rawAnswers, _ := json.Marshal(answers)
	rawInfo, _ := json.Marshal(final.NutritionalInfo)
	rawAssessment, _ := json.Marshal(assessment)
	record, err := h.repo.CompleteFoodSession(ctx, session.ID, storage.FoodRecord{
		CustomerID:      customerID,
		FoodName:        final.FoodName,
		FoodDescription: final.FoodDescription,
		FoodCategory:    final.FoodCategory,
		ImageURL:        session.ImageURL,
		ConfidenceScore: final.ConfidenceScore,
		GeminiAnalysis:  rawAssessment,
		MealType:        final.MealType,
		PortionConsumed: &final.PortionConsumed,
		ActualCalories:  &final.ActualCalories,
		NutritionalInfo: rawInfo,
		ConsumedAt:      &consumed,
		UserAnswers:     rawAnswers,
	}, consumed)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, msgNoSession)
		return
	case errors.Is(err, storage.ErrSessionClosed):
		httpx.WriteError(w, http.StatusConflict, msgSessionClosed)
		return
	case err != nil:
		httpx.Fail(w, r, h.logger, "음식 기록 저장에 실패했습니다", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"recordId":  record.ID,
		"finalData": final,
		"record":    record,
	})
}
