package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/customer-service/internal/storage"
)

const msgNoProfile = "고객을 찾을 수 없습니다"

// Profile lets a customer read and edit the parts of their record they own:
// health conditions, alerts and contact details.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodPut {
		h.updateProfile(w, r)
		return
	}
	customerID, ok := customerScope(w, r, r.URL.Query().Get("customerId"))
	if !ok {
		return
	}
	if !knownID(w, customerID, msgNoProfile) {
		return
	}
	c, err := h.repo.GetCustomer(r.Context(), customerID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoProfile)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "프로필 조회 실패", err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"customer": c})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID       string    `json:"customerId"`
		HealthConditions *[]string `json:"health_conditions"`
		CustomAlerts     *[]string `json:"custom_alerts"`
		Phone            *string   `json:"phone"`
		Address          *string   `json:"address"`
	}
	if !decode(w, r, &req) {
		return
	}
	customerID, ok := customerScope(w, r, req.CustomerID)
	if !ok {
		return
	}
	if !knownID(w, customerID, msgNoProfile) {
		return
	}
	ctx := r.Context()
	c, err := h.repo.UpdateProfile(ctx, customerID, storage.ProfileUpdate{
		HealthConditions: cleanList(req.HealthConditions),
		CustomAlerts:     cleanList(req.CustomAlerts),
		Phone:            trimmedPtr(req.Phone),
		Address:          trimmedPtr(req.Address),
	})
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, msgNoProfile)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, "프로필 업데이트 실패", err)
		return
	}
	if h.advisor != nil {
		h.advisor.Forget(ctx, customerID)
	}
	httpx.WriteMessage(w, http.StatusOK, "프로필이 업데이트되었습니다", map[string]any{"customer": c})
}

// cleanList trims entries and drops blank ones; nil stays nil.
func cleanList(list *[]string) *[]string {
	if list == nil {
		return nil
	}
	out := []string{}
	for _, s := range *list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return &out
}

func trimmedPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	return &s
}
