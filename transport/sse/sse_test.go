package sse

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/logging"
)

type counter struct {
	rev   atomic.Int64
	reads atomic.Int64
}

func (c *counter) Revision() int64 {
	c.reads.Add(1)
	return c.rev.Load()
}

func newStream(t *testing.T, src RevisionSource) *httptest.Server {
	t.Helper()
	s := NewServer(src, logging.Discard().Logger)
	s.interval = 5 * time.Millisecond
	s.heartbeat = 20 * time.Millisecond
	mux := http.NewServeMux()
	mux.Handle("/v1/events", s.Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestSubscribe_DeliversChanges(t *testing.T) {
	src := &counter{}
	src.rev.Store(7)
	ts := newStream(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Notice, 8)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(ts.URL, "phone", nil, logging.Discard().Logger).Subscribe(ctx, func(n Notice) error {
			got <- n
			return nil
		})
	}()

	require.Eventually(t, func() bool { return src.reads.Load() > 0 }, time.Second, time.Millisecond)
	src.rev.Store(8)

	select {
	case n := <-got:
		assert.Equal(t, int64(8), n.Revision)
		assert.False(t, n.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no notice delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
	assert.Empty(t, got, "starting revision is not a change")
}

func TestSubscribe_HandlerErrorStops(t *testing.T) {
	src := &counter{}
	ts := newStream(t, src)
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- NewClient(ts.URL, "phone", nil, nil).Subscribe(context.Background(), func(Notice) error {
			return boom
		})
	}()
	require.Eventually(t, func() bool { return src.reads.Load() > 0 }, time.Second, time.Millisecond)
	src.rev.Add(1)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return")
	}
}

func TestSubscribe_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("device") == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	err := NewClient(ts.URL, "down", nil, nil).Subscribe(context.Background(), func(Notice) error { return nil })
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))

	err = NewClient(ts.URL, "other", nil, nil).Subscribe(context.Background(), func(Notice) error { return nil })
	require.Error(t, err)
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindRemote))
}

func TestHandler_Heartbeat(t *testing.T) {
	ts := newStream(t, &counter{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 128)
	for !bytes.Contains(buf, []byte(": ping")) {
		n, err := resp.Body.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
}
