package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/httpx"
	"github.com/md-rashed-zaman/mspharm/services/analytics-service/internal/metrics"
)

const (
	defaultDays = 30
	maxDays     = 366

	msgManagerOnly = "관리자만 접근할 수 있습니다"
	msgBadDate     = "날짜는 YYYY-MM-DD 형식이어야 합니다."
	msgBadRange    = "조회 기간이 올바르지 않습니다 (최대 366일)"
	msgQueryFailed = "통계 조회 중 오류가 발생했습니다"
)

type Ranger interface {
	Range(ctx context.Context, from, to time.Time, names []string) ([]metrics.Cell, error)
}

type Handler struct {
	store  Ranger
	clock  clockwork.Clock
	logger *slog.Logger
}

func New(store Ranger, clock clockwork.Clock, logger *slog.Logger) *Handler {
	return &Handler{store: store, clock: clock, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/analytics/daily", h.Daily)
}

type Day struct {
	Date    string           `json:"date"`
	Metrics map[string]int64 `json:"metrics"`
}

// Daily serves counters per day for ?from=&to= (defaults to the last 30 days
// in KST). ?metric= may repeat or be comma separated. Days without any
// counter are omitted; totals sum every returned day.
func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsManager() {
		httpx.WriteError(w, http.StatusForbidden, msgManagerOnly)
		return
	}

	q := r.URL.Query()
	today := h.clock.Now().In(metrics.KST)
	to, err := dateParam(q.Get("to"), time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, metrics.KST))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgBadDate)
		return
	}
	from, err := dateParam(q.Get("from"), to.AddDate(0, 0, -(defaultDays-1)))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgBadDate)
		return
	}
	if from.After(to) || to.Sub(from) >= maxDays*24*time.Hour {
		httpx.WriteError(w, http.StatusBadRequest, msgBadRange)
		return
	}

	var names []string
	for _, v := range q["metric"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	cells, err := h.store.Range(r.Context(), from, to, names)
	if err != nil {
		httpx.Fail(w, r, h.logger, msgQueryFailed, err)
		return
	}

	byDay := map[string]*Day{}
	totals := map[string]int64{}
	for _, c := range cells {
		date := c.Day.Format(time.DateOnly)
		d, ok := byDay[date]
		if !ok {
			d = &Day{Date: date, Metrics: map[string]int64{}}
			byDay[date] = d
		}
		d.Metrics[c.Metric] = c.Value
		totals[c.Metric] += c.Value
	}
	days := make([]Day, 0, len(byDay))
	for _, d := range byDay {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	httpx.WriteData(w, http.StatusOK, map[string]any{
		"from":   from.Format(time.DateOnly),
		"to":     to.Format(time.DateOnly),
		"days":   days,
		"totals": totals,
	})
}

func dateParam(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseInLocation(time.DateOnly, raw, metrics.KST)
}
