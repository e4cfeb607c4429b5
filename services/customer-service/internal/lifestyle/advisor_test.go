package lifestyle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/mspharm/libs/cache"
	"github.com/md-rashed-zaman/mspharm/libs/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	calls atomic.Int32
	reply func(prompt string) (string, error)
}

func (f *fakeModel) JSON(_ context.Context, prompt string, dst any, _ ...gemini.Blob) (string, error) {
	f.calls.Add(1)
	raw, err := f.reply(prompt)
	if err != nil {
		return "", err
	}
	return raw, json.Unmarshal([]byte(raw), dst)
}

func newAdvisor(m Model) (*Advisor, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAdvisor(m, cache.NewLoader[Tips](cache.NewMemory(clock), "tips:", TipsTTL, logger)), clock
}

func TestTipsAreCachedPerCustomer(t *testing.T) {
	model := &fakeModel{reply: func(string) (string, error) {
		return `{"nutrition": {"category": "식습관", "recommendations": ["따뜻한 물"], "priority": "high"}, "custom_message": "힘내세요"}`, nil
	}}
	advisor, clock := newAdvisor(model)
	ctx := context.Background()
	profile := func(context.Context) (Profile, error) { return Profile{Name: "홍길동"}, nil }

	tips, hit, err := advisor.Tips(ctx, "c-1", profile)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "힘내세요", tips.CustomMessage)
	assert.Equal(t, []string{"따뜻한 물"}, tips.Nutrition.Recommendations)

	_, hit, err = advisor.Tips(ctx, "c-1", profile)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.EqualValues(t, 1, model.calls.Load())

	advisor.Forget(ctx, "c-1")
	_, hit, _ = advisor.Tips(ctx, "c-1", profile)
	assert.False(t, hit)

	clock.Advance(TipsTTL + time.Second)
	_, hit, _ = advisor.Tips(ctx, "c-1", profile)
	assert.False(t, hit)
	assert.EqualValues(t, 3, model.calls.Load())
}

func TestTipsProfileErrorSkipsModel(t *testing.T) {
	model := &fakeModel{reply: func(string) (string, error) { return "{}", nil }}
	advisor, _ := newAdvisor(model)
	boom := errors.New("db down")
	_, _, err := advisor.Tips(context.Background(), "c-1", func(context.Context) (Profile, error) { return Profile{}, boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, model.calls.Load())
}

func TestTipsPromptListsHistory(t *testing.T) {
	age := 52
	p := TipsPrompt(Profile{
		Name: "김환자", Gender: "여성", EstimatedAge: &age,
		Consultations: []Consultation{{ConsultDate: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), Symptoms: "소화불량"}},
	})
	assert.Contains(t, p, "추정 연령: 52세")
	assert.Contains(t, p, "1. 상담일: 2026-04-02")
	assert.Contains(t, p, "처방: 기록 없음")
	assert.Contains(t, p, "식단 기록 없음")
}

func TestSummariesFallBackPerConsultation(t *testing.T) {
	model := &fakeModel{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "두통") {
			return "", gemini.ErrUnavailable
		}
		return `{"patient_friendly_summary": "소화가 잘 되지 않아 상담을 받으셨어요.", "urgency_level": "medium"}`, nil
	}}
	advisor, _ := newAdvisor(model)
	got := advisor.Summaries(context.Background(), []Consultation{
		{ID: "1", ConsultationID: "00001_002", Symptoms: "소화불량"},
		{ID: "2", ConsultationID: "00001_001", Symptoms: "두통", Prescription: "천궁차조산"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "00001_002", got[0].ConsultationID)
	assert.Equal(t, "medium", got[0].UrgencyLevel)
	assert.Equal(t, []string{}, got[0].KeySymptoms)

	assert.Equal(t, "두통에 대한 상담을 받으셨습니다.", got[1].PatientFriendlySummary)
	assert.Equal(t, []string{"천궁차조산"}, got[1].PrescribedMedications)
	assert.Equal(t, "low", got[1].UrgencyLevel)
}
