package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/purchase"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/storage"
)

const (
	maxReceipt = 4 << 20

	msgNoFile          = "파일이 없습니다"
	msgReceiptTooLarge = "파일 크기는 4MB 이하여야 합니다. 이미지를 압축해주세요."
	msgImagesOnly      = "이미지 파일만 업로드 가능합니다"
	msgUploadFailed    = "파일 업로드 중 오류가 발생했습니다"
	msgBadAmount       = "올바른 금액을 입력해주세요"
	msgNeedImage       = "최소 1개의 이미지가 필요합니다"
	msgCreateFailed    = "구매 요청 생성 중 오류가 발생했습니다"
	msgListFailed      = "구매 요청 조회 중 오류가 발생했습니다"
	msgNotFound        = "구매 요청을 찾을 수 없습니다"
	msgOwnRequest      = "본인의 구매 요청은 승인할 수 없습니다"
	msgOwnReject       = "본인의 구매 요청은 거부할 수 없습니다"
	msgAlreadyDone     = "이미 처리된 요청입니다"
	msgApproveDenied   = "구매 요청 승인 권한이 없습니다"
	msgRejectDenied    = "구매 요청 거부 권한이 없습니다"
	msgDecideFailed    = "구매 요청 처리 중 오류가 발생했습니다"
	msgOwnerOnly       = "사장님만 접근할 수 있습니다"
	msgBadPeriod       = "period는 all, thisMonth, lastMonth, last3Months, thisYear 중 하나여야 합니다"
	msgStatsFailed     = "통계 조회 중 오류가 발생했습니다"
)

func (h *Handler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxReceipt + 1<<20); err != nil {
		if isMaxBytes(err) {
			httpx.WriteError(w, http.StatusBadRequest, msgReceiptTooLarge)
		} else {
			httpx.WriteError(w, http.StatusBadRequest, msgNoFile)
		}
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()
	if hdr.Size > maxReceipt {
		httpx.WriteError(w, http.StatusBadRequest, msgReceiptTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxReceipt+1))
	if err != nil || len(data) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgNoFile)
		return
	}
	if len(data) > maxReceipt {
		httpx.WriteError(w, http.StatusBadRequest, msgReceiptTooLarge)
		return
	}
	mime := contentType(hdr, data)
	if !strings.HasPrefix(mime, "image/") {
		httpx.WriteError(w, http.StatusBadRequest, msgImagesOnly)
		return
	}
	if h.store == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, msgUploadFailed)
		return
	}
	objectPath := receiptPath(actor.ID, hdr.Filename, mime, h.now().UnixMilli())
	url, err := h.store.Upload(r.Context(), ReceiptBucket, objectPath, data, mime)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgUploadFailed, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]string{"url": url, "path": objectPath})
}

// receiptPath is <employee>/<unix ms>-<random>.<ext>.
func receiptPath(employeeID, filename, mime string, ms int64) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		ext = strings.TrimPrefix(mime, "image/")
	}
	if ext == "" || strings.ContainsAny(ext, "/+") {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%d-%s.%s", employeeID, ms, uuid.NewString()[:8], ext)
}

type purchaseRequestBody struct {
	TotalAmount amount   `json:"totalAmount"`
	ImageURLs   []string `json:"imageUrls"`
	Notes       string   `json:"notes"`
}

type purchaseList struct {
	Requests   []storage.PurchaseRequest `json:"requests"`
	Pagination pagination                `json:"pagination"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func (h *Handler) PurchaseRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listPurchases(w, r)
	case http.MethodPost:
		h.createPurchase(w, r)
	default:
		httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) createPurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req purchaseRequestBody
	if !decode(w, r, &req) {
		return
	}
	if req.TotalAmount.value <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgBadAmount)
		return
	}
	urls := make([]string, 0, len(req.ImageURLs))
	for _, u := range req.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgNeedImage)
		return
	}
	p, err := h.purchases.CreatePurchase(r.Context(), actor.ID, req.TotalAmount.value, urls, strings.TrimSpace(req.Notes))
	if err != nil {
		httpx.Fail(w, r, h.logger, msgCreateFailed, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, p)
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := httpx.PageFromQuery(r, 10)
	filter := storage.PurchaseFilter{
		EmployeeID: actor.ID,
		Status:     strings.TrimSpace(q.Get("status")),
		Limit:      page.Limit,
		Offset:     page.Offset(),
	}
	if q.Get("admin") == "true" && actor.IsManager() {
		filter.EmployeeID = ""
	}
	list, total, err := h.purchases.ListPurchases(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgListFailed, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, purchaseList{
		Requests: list,
		Pagination: pagination{
			Page: page.Page, Limit: page.Limit, Total: total, TotalPages: page.TotalPages(total),
		},
	})
}

func (h *Handler) ApprovePurchase(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	h.decide(w, r, storage.StatusApproved, "", msgApproveDenied, msgOwnRequest)
}

func (h *Handler) RejectPurchase(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.decide(w, r, storage.StatusRejected, strings.TrimSpace(req.Reason), msgRejectDenied, msgOwnReject)
}

// decide applies the shared guards: manager or owner only, never one's own
// request, and only while pending.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, status, reason, denied, own string) {
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	if !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, denied)
		return
	}
	id := r.PathValue("id")
	if !httpx.ValidID(id) {
		httpx.WriteError(w, http.StatusNotFound, msgNotFound)
		return
	}
	ctx := r.Context()
	existing, err := h.purchases.GetPurchase(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNotFound)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgDecideFailed, err)
		return
	}
	if existing.EmployeeID == actor.ID {
		httpx.WriteError(w, http.StatusForbidden, own)
		return
	}
	if existing.Status != storage.StatusPending {
		httpx.WriteError(w, http.StatusBadRequest, msgAlreadyDone)
		return
	}
	updated, err := h.purchases.DecidePurchase(ctx, id, status, actor.ID, reason)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, storage.ErrAlreadyDecided):
		httpx.WriteError(w, http.StatusBadRequest, msgAlreadyDone)
	case err != nil:
		httpx.Fail(w, r, h.logger, msgDecideFailed, err)
	default:
		h.logger.Info("purchase request decided", "id", id, "status", status, "by", actor.ID)
		msg := "구매 요청이 승인되었습니다"
		if status == storage.StatusRejected {
			msg = "구매 요청이 거부되었습니다"
		}
		httpx.WriteMessage(w, http.StatusOK, msg, updated)
	}
}

func (h *Handler) PurchaseStatistics(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	if !actor.IsOwner() {
		httpx.WriteError(w, http.StatusForbidden, msgOwnerOnly)
		return
	}
	since, err := purchase.Since(strings.TrimSpace(r.URL.Query().Get("period")), h.now(), income.KST)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgBadPeriod)
		return
	}
	entries, err := h.purchases.PurchaseStats(r.Context(), since)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgStatsFailed, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, purchase.Summarize(entries, income.KST))
}
