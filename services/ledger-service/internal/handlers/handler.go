package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	objstore "github.com/md-rashed-zaman/mspharm/libs/storage"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/purchase"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/storage"
)

const (
	ReceiptBucket = "purchase-receipts"

	msgInvalidBody = "잘못된 요청 형식입니다"
	msgStaffOnly   = "직원만 사용할 수 있습니다"
)

// Model is satisfied by *gemini.Client.
type Model interface {
	Text(ctx context.Context, prompt string, blobs ...gemini.Blob) (string, error)
}

// Purchases is the purchase request store.
type Purchases interface {
	CreatePurchase(ctx context.Context, employeeID string, amount int64, urls []string, notes string) (storage.PurchaseRequest, error)
	GetPurchase(ctx context.Context, id string) (storage.PurchaseRequest, error)
	ListPurchases(ctx context.Context, f storage.PurchaseFilter) ([]storage.PurchaseRequest, int, error)
	DecidePurchase(ctx context.Context, id, status, deciderID, reason string) (storage.PurchaseRequest, error)
	PurchaseStats(ctx context.Context, since time.Time) ([]purchase.Entry, error)
}

type Deps struct {
	Income    *income.Service
	Purchases Purchases
	Store     objstore.Store
	Model     Model
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

type Handler struct {
	income    *income.Service
	purchases Purchases
	store     objstore.Store
	model     Model
	clock     clockwork.Clock
	logger    *slog.Logger
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		income:    d.Income,
		purchases: d.Purchases,
		store:     d.Store,
		model:     d.Model,
		clock:     d.Clock,
		logger:    d.Logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/daily-income", h.DailyIncome)
	mux.HandleFunc("/api/daily-income/monthly", h.MonthlyIncome)

	mux.HandleFunc("/api/extract-invoice", h.ExtractInvoice)
	mux.HandleFunc("/api/recognize-medicine", h.RecognizeMedicine)

	mux.HandleFunc("/api/employee-purchase/upload", h.UploadReceipt)
	mux.HandleFunc("/api/employee-purchase/requests", h.PurchaseRequests)
	mux.HandleFunc("/api/employee-purchase/requests/{id}/approve", h.ApprovePurchase)
	mux.HandleFunc("/api/employee-purchase/requests/{id}/reject", h.RejectPurchase)
	mux.HandleFunc("/api/employee-purchase/statistics", h.PurchaseStatistics)
}

func (h *Handler) now() time.Time { return h.clock.Now().In(income.KST) }

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

func isMaxBytes(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
