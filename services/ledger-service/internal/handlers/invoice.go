package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/invoice"
)

const (
	maxInvoiceFile     = 20 << 20
	msgFileRequired    = "파일이 필요합니다."
	msgUnsupportedFile = "지원하지 않는 파일 형식입니다. 이미지 또는 PDF만 업로드해 주세요."
	msgInvoiceFailed   = "거래 내역서 처리 중 오류가 발생했습니다."
	msgAIUnavailable   = "AI 기능을 사용할 수 없습니다"
)

// formFile returns the first present field among names.
func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, n := range names {
		f, hdr, err := r.FormFile(n)
		if err == nil {
			return f, hdr, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

func contentType(hdr *multipart.FileHeader, data []byte) string {
	ct := hdr.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func (h *Handler) ExtractInvoice(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	if err := r.ParseMultipartForm(maxInvoiceFile); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgFileRequired)
		return
	}
	file, hdr, err := formFile(r, "file", "image")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgFileRequired)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxInvoiceFile))
	if err != nil || len(data) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgFileRequired)
		return
	}
	mime := contentType(hdr, data)
	if !strings.HasPrefix(mime, "image/") && mime != "application/pdf" {
		httpx.WriteError(w, http.StatusBadRequest, msgUnsupportedFile)
		return
	}
	if h.model == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, msgAIUnavailable)
		return
	}
	reply, err := h.model.Text(r.Context(), invoice.Prompt, gemini.Blob{Data: data, MIMEType: mime})
	if err != nil {
		httpx.Fail(w, r, h.logger, msgInvoiceFailed, err)
		return
	}
	inv, fallback := invoice.Parse(reply, h.now())
	if fallback {
		h.logger.Warn("invoice reply was not json, used label scan", "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	httpx.WriteData(w, http.StatusOK, inv)
}

const (
	msgMedicineImage       = "이미지 파일이 필요합니다"
	msgMedicineImageOnly   = "지원하지 않는 파일 형식입니다. 이미지만 업로드해 주세요."
	msgMedicineFailed      = "약품 인식 중 오류가 발생했습니다."
	msgMedicineUnrecognise = "약품 인식에 실패했습니다"
)

// RecognizeMedicine matches a product photo against the names on the
// statement being checked in.
func (h *Handler) RecognizeMedicine(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	if err := r.ParseMultipartForm(maxInvoiceFile); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgMedicineImage)
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgMedicineImage)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxInvoiceFile))
	if err != nil || len(data) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgMedicineImage)
		return
	}
	mime := contentType(hdr, data)
	if !strings.HasPrefix(mime, "image/") {
		httpx.WriteError(w, http.StatusBadRequest, msgMedicineImageOnly)
		return
	}
	if h.model == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, msgAIUnavailable)
		return
	}
	names := invoice.ItemNames(r.FormValue("invoiceItems"))
	reply, err := h.model.Text(r.Context(), invoice.MedicinePrompt(names), gemini.Blob{Data: data, MIMEType: mime})
	if err != nil {
		httpx.Fail(w, r, h.logger, msgMedicineFailed, err)
		return
	}
	rec, err := invoice.ParseRecognition(reply)
	if err != nil {
		h.logger.Warn("medicine reply unreadable", "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, httpx.Envelope{
			Error: msgMedicineUnrecognise,
			Data:  invoice.Recognition{},
		})
		return
	}
	httpx.WriteData(w, http.StatusOK, rec)
}
