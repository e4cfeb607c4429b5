package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memInbox struct {
	mu     sync.Mutex
	seen   map[string]bool
	forgot []string
}

func (m *memInbox) Record(_ context.Context, id, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	m.forgot = append(m.forgot, id)
	return nil
}

type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed int
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	r.committed += len(msgs)
	r.mu.Unlock()
	return nil
}

func (r *sliceReader) Close() error { return nil }

func (r *sliceReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

func message(id string) kafka.Message {
	return kafka.Message{
		Topic:   "hr.payroll.approved.v1",
		Headers: kafkax.EventMeta{EventID: id, EventType: "hr.payroll.approved.v1"}.Headers(),
	}
}

func TestConsumerSkipsDuplicatesAndRetriesFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inbox := &memInbox{seen: map[string]bool{}}
	reader := &sliceReader{msgs: []kafka.Message{message("a"), message("a"), message("b")}}

	var mu sync.Mutex
	calls := map[string]int{}
	handler := func(_ context.Context, msg kafka.Message) error {
		id := kafkax.ExtractEventMeta(msg).EventID
		mu.Lock()
		defer mu.Unlock()
		calls[id]++
		if id == "b" {
			return errors.New("smtp down")
		}
		return nil
	}

	c := NewWithReader(logger, inbox, reader, Config{GroupID: "test", Attempts: 3, Backoff: time.Millisecond}, handler)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reader.commits() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls["a"], "duplicate delivery must not reach the handler")
	assert.Equal(t, 3, calls["b"], "failing handler is retried")
	assert.Equal(t, []string{"b"}, inbox.forgot)
}
