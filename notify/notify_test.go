package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	got   []*Notification
	err   error
	block chan struct{}
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(ctx context.Context, n *Notification) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestDispatcherDelivers(t *testing.T) {
	t.Parallel()

	logger, _ := test.NewNullLogger()
	rec := &recorder{}
	d := NewDispatcher(rec, logger, 8)

	d.Notify(&Notification{Kind: KindOpened, Title: "a"})
	d.Notify(&Notification{Kind: KindSettled, Title: "b"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 2, rec.count())
	assert.False(t, rec.got[0].Time.IsZero())

	// after Close notifications are ignored
	d.Notify(&Notification{Kind: KindOpened})
	assert.Equal(t, 2, rec.count())
}

func TestDispatcherNeverBlocks(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher(rec, logger, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(&Notification{Kind: KindRejected})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stuck notifier")
	}
	assert.GreaterOrEqual(t, d.Dropped(), 8)
	assert.NotEmpty(t, hook.AllEntries())

	close(rec.block)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherLogsFailures(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	rec := &recorder{err: errors.New("boom")}
	d := NewDispatcher(rec, logger, 4)
	d.Notify(&Notification{Kind: KindHalted})
	require.NoError(t, d.Close(context.Background()))

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Equal(t, "notification failed", last.Message)
}

func TestMulti(t *testing.T) {
	t.Parallel()

	a := &recorder{}
	b := &recorder{err: errors.New("down")}
	err := Multi{a, b}.Send(context.Background(), &Notification{Kind: KindReset})
	assert.ErrorContains(t, err, "recorder: down")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestLogNotifierLevels(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	l := NewLog(logger)

	require.NoError(t, l.Send(context.Background(), &Notification{Kind: KindHalted, Message: "kill switch", MarketID: "m1"}))
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "m1", hook.LastEntry().Data["market_id"])

	require.NoError(t, l.Send(context.Background(), &Notification{Kind: KindOpened, Message: "opened"}))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestTelegram(t *testing.T) {
	t.Parallel()

	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), &Notification{Title: "Halted", Message: "drawdown 21%"}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Halted*\n\ndrawdown 21%", got["text"])
}

func TestTelegramErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram("bad", "1")
	tg.baseURL = srv.URL
	assert.ErrorContains(t, tg.Send(context.Background(), &Notification{}), "status 401")

	off := NewTelegram("", "")
	assert.False(t, off.Enabled())
	assert.NoError(t, off.Send(context.Background(), &Notification{}))
}
