package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/ledger-service/internal/income"
)

const (
	msgDateParam     = "날짜 파라미터가 필요합니다."
	msgDateField     = "날짜 필드가 필요합니다."
	msgBadDate       = "날짜는 YYYY-MM-DD 형식이어야 합니다."
	msgYearMonth     = "yearMonth 파라미터가 필요합니다 (YYYY-MM 형식)"
	msgYearMonthFmt  = "yearMonth는 YYYY-MM 형식이어야 합니다"
	msgDaysPositive  = "days 값은 양수여야 합니다"
	msgDaysTooMany   = "days 값은 3650 이하여야 합니다"
	msgBadMode       = "mode는 month, recent, all 중 하나여야 합니다"
	msgIncomeRead    = "데이터 조회 중 오류가 발생했습니다"
	msgIncomeSave    = "데이터 저장 중 오류가 발생했습니다"
	defaultStatsDays = 31
)

var yearMonthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// amount is one drawer field as sent by either client generation: a plain
// number, a numeric string, or a Notion {"number": n} property.
type amount struct {
	value int64
	set   bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	a.set = true
	switch {
	case string(b) == "null":
		a.value = 0
		return nil
	case len(b) > 0 && b[0] == '{':
		var prop struct {
			Number *float64 `json:"number"`
		}
		if err := json.Unmarshal(b, &prop); err != nil {
			return err
		}
		if prop.Number != nil {
			a.value = int64(math.Round(*prop.Number))
		}
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			a.value = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		a.value = int64(math.Round(f))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	a.value = int64(math.Round(f))
	return nil
}

func (a amount) apply(dst *int64) {
	if a.set {
		*dst = a.value
	}
}

type incomeRequest struct {
	Date   string `json:"date"`
	Cas5   amount `json:"cas5"`
	Cas1   amount `json:"cas1"`
	Gif    amount `json:"gif"`
	Car1   amount `json:"car1"`
	Car2   amount `json:"car2"`
	Person amount `json:"person"`
	Pos    amount `json:"pos"`
}

type incomeView struct {
	income.Record
	Income int64 `json:"income"`
	Net    int64 `json:"net"`
	Diff   int64 `json:"diff"`
}

func viewOf(rec income.Record) incomeView {
	return incomeView{Record: rec, Income: rec.Income(), Net: rec.Net(), Diff: rec.Diff()}
}

func (h *Handler) DailyIncome(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getDailyIncome(w, r)
	case http.MethodPost:
		h.saveDailyIncome(w, r)
	default:
		httpx.RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) getDailyIncome(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgDateParam)
		return
	}
	if _, err := income.ParseDate(date); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgBadDate)
		return
	}
	rec, _, err := h.income.Get(r.Context(), date)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgIncomeRead, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, viewOf(rec))
}

// saveDailyIncome overlays the sent fields on the stored day, so a client
// may post only what changed.
func (h *Handler) saveDailyIncome(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req incomeRequest
	if !decode(w, r, &req) {
		return
	}
	req.Date = strings.TrimSpace(req.Date)
	if req.Date == "" {
		httpx.WriteError(w, http.StatusBadRequest, msgDateField)
		return
	}
	if len(req.Date) > len(income.DateLayout) {
		req.Date = req.Date[:len(income.DateLayout)]
	}
	if _, err := income.ParseDate(req.Date); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgBadDate)
		return
	}
	ctx := r.Context()
	current, _, err := h.income.Get(ctx, req.Date)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgIncomeSave, err)
		return
	}
	day := current.Day
	day.Date = req.Date
	req.Cas5.apply(&day.Cas5)
	req.Cas1.apply(&day.Cas1)
	req.Gif.apply(&day.Gif)
	req.Car1.apply(&day.Car1)
	req.Car2.apply(&day.Car2)
	req.Person.apply(&day.Person)
	req.Pos.apply(&day.Pos)

	saved, err := h.income.Save(ctx, day)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgIncomeSave, err)
		return
	}
	h.logger.Info("daily income saved", "date", saved.Date, "by", actor.ID, "diff", saved.Diff())
	httpx.WriteData(w, http.StatusOK, viewOf(income.Record{Day: saved, Exists: true}))
}

type filterInfo struct {
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
	Description string `json:"description"`
}

type monthlyResponse struct {
	Mode        string        `json:"mode"`
	Label       string        `json:"label"`
	Period      income.Period `json:"period"`
	FilterInfo  filterInfo    `json:"filterInfo"`
	Stats       income.Stats  `json:"stats"`
	RecordCount int           `json:"recordCount"`
}

func (h *Handler) MonthlyIncome(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	q := r.URL.Query()
	mode := strings.TrimSpace(q.Get("mode"))
	if mode == "" {
		mode = "month"
	}

	resp := monthlyResponse{Mode: mode}
	switch mode {
	case "month":
		ym := strings.TrimSpace(q.Get("yearMonth"))
		if ym == "" {
			httpx.WriteError(w, http.StatusBadRequest, msgYearMonth)
			return
		}
		if !yearMonthRe.MatchString(ym) {
			httpx.WriteError(w, http.StatusBadRequest, msgYearMonthFmt)
			return
		}
		p, err := income.MonthPeriod(ym)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, msgYearMonthFmt)
			return
		}
		resp.Period, resp.Label = p, ym
		resp.FilterInfo = filterInfo{
			StartDate:   p.Start,
			EndDate:     p.End,
			Description: fmt.Sprintf("%s년 %s월 1일부터 %s일까지", ym[:4], ym[5:7], p.End[8:]),
		}
	case "recent":
		days := defaultStatsDays
		if raw := strings.TrimSpace(q.Get("days")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpx.WriteError(w, http.StatusBadRequest, msgDaysPositive)
				return
			}
			if n > income.MaxRecentDays {
				httpx.WriteError(w, http.StatusBadRequest, msgDaysTooMany)
				return
			}
			days = n
		}
		p := income.RecentPeriod(h.now(), days)
		resp.Period, resp.Label = p, fmt.Sprintf("최근 %d일", days)
		resp.FilterInfo = filterInfo{
			StartDate:   p.Start,
			EndDate:     p.End,
			Description: fmt.Sprintf("%s부터 %s까지 (%d일)", p.Start, p.End, days),
		}
	case "all":
		resp.Label = "전체 기간"
		resp.FilterInfo = filterInfo{Description: "전체 기록"}
	default:
		httpx.WriteError(w, http.StatusBadRequest, msgBadMode)
		return
	}

	stats, err := h.income.Stats(r.Context(), resp.Period)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgIncomeRead, err)
		return
	}
	resp.Stats = stats
	resp.RecordCount = len(stats.DailyData)
	httpx.WriteData(w, http.StatusOK, resp)
}
