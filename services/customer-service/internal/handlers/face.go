package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/face"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

const (
	maxFaceImage       = 10 << 20
	defaultMatchLimit  = 5
	msgImageRequired   = "이미지 파일이 필요합니다."
	msgImageTooLarge   = "이미지 파일 크기는 10MB 이하여야 합니다."
	msgImageAnalysis   = "이미지 분석 중 오류가 발생했습니다."
	msgFaceDefaultUsed = "모델이 유효한 JSON을 반환하지 않아 기본값을 사용합니다."
)

// readImage pulls the multipart "image" field, enforcing the size cap.
func readImage(w http.ResponseWriter, r *http.Request) (gemini.Blob, bool) {
	if err := r.ParseMultipartForm(maxFaceImage + 1<<20); err != nil {
		if isMaxBytes(err) {
			httpx.WriteError(w, http.StatusBadRequest, msgImageTooLarge)
		} else {
			httpx.WriteError(w, http.StatusBadRequest, msgImageRequired)
		}
		return gemini.Blob{}, false
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgImageRequired)
		return gemini.Blob{}, false
	}
	defer file.Close()
	if header.Size > maxFaceImage {
		httpx.WriteError(w, http.StatusBadRequest, msgImageTooLarge)
		return gemini.Blob{}, false
	}
	data, err := io.ReadAll(io.LimitReader(file, maxFaceImage+1))
	if err != nil || len(data) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgImageRequired)
		return gemini.Blob{}, false
	}
	if len(data) > maxFaceImage {
		httpx.WriteError(w, http.StatusBadRequest, msgImageTooLarge)
		return gemini.Blob{}, false
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return gemini.Blob{Data: data, MIMEType: mime}, true
}

func isMaxBytes(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// analyzeFace returns the normalized analysis and whether the model's reply
// was usable. A transport failure writes the error response itself.
func (h *Handler) analyzeFace(w http.ResponseWriter, r *http.Request, img gemini.Blob) (face.Analysis, bool, bool) {
	if h.model == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, msgAIUnavailable)
		return face.Analysis{}, false, false
	}
	reply, err := h.model.Text(r.Context(), face.Prompt, img)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgImageAnalysis, err)
		return face.Analysis{}, false, false
	}
	analysis, parsed := face.Parse(reply)
	if !parsed {
		h.logger.Warn("face analysis reply unreadable, using defaults")
	}
	return analysis, parsed, true
}

func (h *Handler) FaceEmbedding(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	img, ok := readImage(w, r)
	if !ok {
		return
	}
	analysis, parsed, ok := h.analyzeFace(w, r, img)
	if !ok {
		return
	}
	if !parsed {
		httpx.WriteMessage(w, http.StatusOK, msgFaceDefaultUsed, analysis)
		return
	}
	httpx.WriteData(w, http.StatusOK, analysis)
}

// FaceMatch ranks customers with a stored embedding against the photo.
func (h *Handler) FaceMatch(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	img, ok := readImage(w, r)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(r.FormValue("limit"))
	if err != nil || limit <= 0 {
		limit = defaultMatchLimit
	}
	analysis, parsed, ok := h.analyzeFace(w, r, img)
	if !ok {
		return
	}
	candidates, err := h.repo.FaceCandidates(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, "얼굴 매칭 중 오류가 발생했습니다.", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{
		"analysis":  analysis,
		"estimated": !parsed,
		"matches":   face.Rank(analysis.Embedding, candidates, limit),
		"compared":  len(candidates),
	})
}

// SetFace stores an analysis (or bare embedding) on a customer.
func (h *Handler) SetFace(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPut) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	var body struct {
		FaceEmbedding json.RawMessage `json:"faceEmbedding"`
	}
	if !decode(w, r, &body) {
		return
	}
	if _, ok := face.FromStored(body.FaceEmbedding); !ok {
		httpx.WriteError(w, http.StatusBadRequest, "얼굴 특징 데이터가 올바르지 않습니다.")
		return
	}
	id := r.PathValue("id")
	if !knownID(w, id, msgNoCustomer) {
		return
	}
	err := h.repo.SetFace(r.Context(), id, body.FaceEmbedding)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoCustomer)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgCustomerError, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "얼굴 정보가 저장되었습니다.", nil)
}
