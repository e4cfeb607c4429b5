package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/mspharm/libs/events"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/audit"
	"github.com/md-rashed-zaman/mspharm/services/auth-service/internal/storage"
)

const (
	msgEmployeeMissing  = "이름, 권한, 비밀번호를 모두 입력해주세요"
	msgBadRole          = "올바른 권한을 선택해주세요"
	msgEmployeePassword = "비밀번호는 4자리 숫자여야 합니다"
	msgNameTaken        = "이미 존재하는 이름입니다"
	msgNoEmployee       = "존재하지 않는 직원입니다"
)

func validRole(role string) bool {
	switch role {
	case httpx.RoleStaff, httpx.RoleManager, httpx.RoleOwner:
		return true
	}
	return false
}

type employeeRequest struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

func (req *employeeRequest) normalize() {
	for _, p := range []*string{req.Name, req.Role} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
}

func validateNewEmployee(req employeeRequest) string {
	if req.Name == nil || *req.Name == "" || req.Role == nil || *req.Role == "" || req.Password == nil || *req.Password == "" {
		return msgEmployeeMissing
	}
	if !validRole(*req.Role) {
		return msgBadRole
	}
	if !employeePasswordRe.MatchString(*req.Password) {
		return msgEmployeePassword
	}
	return ""
}

func validateEmployeeUpdate(req employeeRequest) string {
	if req.Name != nil && *req.Name == "" {
		return "이름을 입력해주세요"
	}
	if req.Role != nil && !validRole(*req.Role) {
		return msgBadRole
	}
	if req.Password != nil && !employeePasswordRe.MatchString(*req.Password) {
		return msgEmployeePassword
	}
	return ""
}

// Employees serves the collection: GET lists, POST creates.
func (h *Handler) Employees(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		list, err := h.employees.List(r.Context())
		if err != nil {
			httpx.Fail(w, r, h.logger, msgServerError, err)
			return
		}
		httpx.WriteData(w, http.StatusOK, list)
		return
	}

	var req employeeRequest
	if !decode(w, r, &req) {
		return
	}
	req.normalize()
	if msg := validateNewEmployee(req); msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	hash, err := hashPassword(*req.Password)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}

	ctx := r.Context()
	var created storage.Employee
	err = h.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = h.employees.CreateTx(ctx, tx, storage.Employee{Name: *req.Name, Role: *req.Role, PasswordHash: hash})
		if err != nil {
			return err
		}
		return h.audit.RecordTx(ctx, tx,
			audit.Entry{ActorID: actor.ID, Action: audit.ActionEmployeeCreated, Target: created.ID,
				Metadata: map[string]any{"name": created.Name, "role": created.Role}},
			audit.Event{Type: events.EmployeeCreated, AggregateID: created.ID, Payload: h.employeeEvent(created, actor.ID)})
	})
	if errors.Is(err, storage.ErrNameTaken) {
		httpx.WriteError(w, http.StatusConflict, msgNameTaken)
		return
	}
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	httpx.WriteMessage(w, http.StatusCreated, "직원이 추가되었습니다", created)
}

// Employee serves one record: GET, PUT, DELETE.
func (h *Handler) Employee(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	actor, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		emp, err := h.employees.GetByID(r.Context(), id)
		if h.employeeLookupFailed(w, r, err) {
			return
		}
		httpx.WriteData(w, http.StatusOK, emp)
	case http.MethodPut:
		h.updateEmployee(w, r, id)
	case http.MethodDelete:
		h.deleteEmployee(w, r, actor, id)
	}
}

func (h *Handler) employeeLookupFailed(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, msgNoEmployee)
	default:
		httpx.Fail(w, r, h.logger, msgServerError, err)
	}
	return true
}

func (h *Handler) updateEmployee(w http.ResponseWriter, r *http.Request, id string) {
	var req employeeRequest
	if !decode(w, r, &req) {
		return
	}
	req.normalize()
	if msg := validateEmployeeUpdate(req); msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	upd := storage.EmployeeUpdate{Name: req.Name, Role: req.Role, IsActive: req.IsActive}
	if req.Password != nil {
		hash, err := hashPassword(*req.Password)
		if err != nil {
			httpx.Fail(w, r, h.logger, msgServerError, err)
			return
		}
		upd.PasswordHash = &hash
	}
	emp, err := h.employees.Update(r.Context(), id, upd)
	if errors.Is(err, storage.ErrNameTaken) {
		httpx.WriteError(w, http.StatusConflict, msgNameTaken)
		return
	}
	if h.employeeLookupFailed(w, r, err) {
		return
	}
	if req.Password != nil || (req.IsActive != nil && !*req.IsActive) {
		if err := h.refresh.RevokeSubject(r.Context(), emp.ID); err != nil {
			h.logger.Warn("session revoke after employee update failed", "employee_id", emp.ID, "err", err)
		}
	}
	httpx.WriteMessage(w, http.StatusOK, "직원 정보가 수정되었습니다", emp)
}

func (h *Handler) deleteEmployee(w http.ResponseWriter, r *http.Request, actor httpx.Actor, id string) {
	if id == actor.ID {
		httpx.WriteError(w, http.StatusBadRequest, "자기 자신은 삭제할 수 없습니다")
		return
	}
	ctx := r.Context()
	emp, err := h.employees.GetByID(ctx, id)
	if h.employeeLookupFailed(w, r, err) {
		return
	}
	busy, err := h.employees.HasPurchaseRequests(ctx, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgServerError, err)
		return
	}
	if busy {
		httpx.WriteError(w, http.StatusConflict, "구매 요청 내역이 있는 직원은 삭제할 수 없습니다")
		return
	}
	err = h.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := h.employees.DeleteTx(ctx, tx, id); err != nil {
			return err
		}
		return h.audit.RecordTx(ctx, tx,
			audit.Entry{ActorID: actor.ID, Action: audit.ActionEmployeeDeleted, Target: id,
				Metadata: map[string]any{"name": emp.Name}},
			audit.Event{Type: events.EmployeeDeleted, AggregateID: id, Payload: h.employeeEvent(emp, actor.ID)})
	})
	if h.employeeLookupFailed(w, r, err) {
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "직원이 삭제되었습니다", nil)
}
