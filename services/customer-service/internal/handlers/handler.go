package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/lifestyle"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

const (
	ConsultationBucket = "consultation-images"
	FoodBucket         = "food-images"

	msgInvalidBody      = "잘못된 요청 형식입니다"
	msgStaffOnly        = "직원만 사용할 수 있습니다"
	msgOwnerOnly        = "사장님만 접근할 수 있습니다"
	msgNoCustomer       = "존재하지 않는 고객입니다."
	msgCustomerIDNeeded = "고객 ID가 필요합니다"
	msgForbidden        = "접근 권한이 없습니다"
)

// KST is the pharmacy's wall clock.
var KST = time.FixedZone("Asia/Seoul", 9*60*60)

// Model is satisfied by *gemini.Client.
type Model interface {
	Text(ctx context.Context, prompt string, blobs ...gemini.Blob) (string, error)
	JSON(ctx context.Context, prompt string, dst any, blobs ...gemini.Blob) (string, error)
}

// Searcher is the full text index; nil means search falls back to SQL.
type Searcher interface {
	Search(ctx context.Context, q, customerID string, limit int) ([]string, error)
}

type Deps struct {
	Repo    *storage.Repository
	Store   objstore.Store
	Model   Model
	Search  Searcher
	Advisor *lifestyle.Advisor
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

type Handler struct {
	repo    *storage.Repository
	store   objstore.Store
	model   Model
	search  Searcher
	advisor *lifestyle.Advisor
	clock   clockwork.Clock
	logger  *slog.Logger
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		repo:    d.Repo,
		store:   d.Store,
		model:   d.Model,
		search:  d.Search,
		advisor: d.Advisor,
		clock:   d.Clock,
		logger:  d.Logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/customer", h.Customers)
	mux.HandleFunc("/api/customer/list", h.ListCustomers)
	mux.HandleFunc("/api/customer/delete", h.DeleteCustomer)
	mux.HandleFunc("/api/customer/trash", h.Trash)
	mux.HandleFunc("/api/customer/trash/{id}/restore", h.Restore)
	mux.HandleFunc("/api/customer/{id}", h.Customer)
	mux.HandleFunc("PUT /api/customer/{id}/face", h.SetFace)
	mux.HandleFunc("/api/customer/profile", h.Profile)

	mux.HandleFunc("/api/consultation", h.Consultations)
	mux.HandleFunc("/api/consultation/history", h.History)
	mux.HandleFunc("/api/consultation/search", h.SearchConsultations)
	mux.HandleFunc("/api/consultation/images", h.ConsultationImages)
	mux.HandleFunc("/api/consultation/{id}", h.Consultation)
	mux.HandleFunc("/api/customer/consultations", h.MyConsultations)
	mux.HandleFunc("POST /api/customer/consultations/summarize", h.Summarize)
	mux.HandleFunc("GET /api/customer/consultations/{id}", h.MyConsultation)

	mux.HandleFunc("/api/face-embedding", h.FaceEmbedding)
	mux.HandleFunc("/api/face-embedding/match", h.FaceMatch)

	mux.HandleFunc("/api/customer/food/analyze", h.AnalyzeFood)
	mux.HandleFunc("/api/customer/food/analyze-with-questions", h.AnalyzeWithQuestions)
	mux.HandleFunc("/api/customer/food/submit-answers", h.SubmitAnswers)
	mux.HandleFunc("/api/customer/food/records", h.FoodRecords)
	mux.HandleFunc("/api/customer/food/record", h.FoodRecord)
	mux.HandleFunc("/api/customer/food/records/{id}", h.DeleteFood)
	mux.HandleFunc("/api/customer/lifestyle/recommendations", h.Lifestyle)

	mux.HandleFunc("/api/customer/nutrition/analyze", h.NutritionAnalyze)
	mux.HandleFunc("/api/customer/nutrition/recommendations", h.NutritionRecommendations)
	mux.HandleFunc("/api/customer/nutrition/stats", h.NutritionStats)
	mux.HandleFunc("/api/customer/nutrition/summary", h.NutritionSummary)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func requireStaff(w http.ResponseWriter, r *http.Request) (httpx.Actor, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.IsEmployee() {
		httpx.WriteError(w, http.StatusForbidden, msgStaffOnly)
		return actor, false
	}
	return actor, true
}

// customerScope resolves which customer a request acts on. Customers may
// only act on themselves; staff may name anyone.
func customerScope(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return "", false
	}
	if actor.IsCustomer() {
		if requested != "" && requested != actor.ID {
			httpx.WriteError(w, http.StatusForbidden, msgForbidden)
			return "", false
		}
		return actor.ID, true
	}
	requested = strings.TrimSpace(requested)
	if requested == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgCustomerIDNeeded)
		return "", false
	}
	if !knownID(w, requested, msgNoCustomer) {
		return "", false
	}
	return requested, true
}

// knownID answers 404 with msg for ids that cannot name a row.
func knownID(w http.ResponseWriter, id, msg string) bool {
	if httpx.ValidID(id) {
		return true
	}
	httpx.WriteError(w, http.StatusNotFound, msg)
	return false
}

func (h *Handler) now() time.Time { return h.clock.Now().In(KST) }

// removeImages deletes stored objects by public URL, logging failures.
func (h *Handler) removeImages(ctx context.Context, bucket string, urls []string) {
	if h.store == nil || len(urls) == 0 {
		return
	}
	var paths []string
	for _, u := range urls {
		if p := objstore.ObjectPath(bucket, u); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}
	if err := h.store.Remove(ctx, bucket, paths...); err != nil {
		h.logger.Warn("image removal failed", "bucket", bucket, "count", len(paths), "err", err)
	}
}
