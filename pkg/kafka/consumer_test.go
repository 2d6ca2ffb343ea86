package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func job(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "facility-list-geocoded", Offset: offset, Value: []byte(value), Time: time.Now()}
}

func TestConsumer_Handle(t *testing.T) {
	failing := errors.New("database unavailable")

	tests := []struct {
		name       string
		msg        kafka.Message
		handlerErr error
		wantCalled bool
		wantCommit bool
	}{
		{name: "processed job is committed", msg: job(1, `{"source_id":"src-1"}`), wantCalled: true, wantCommit: true},
		{name: "malformed job is committed without running", msg: job(2, `{}`), wantCommit: true},
		{name: "failed job stays uncommitted", msg: job(3, `{"source_id":"src-1"}`), handlerErr: failing, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReader{}
			called := false
			c := newConsumer(r, "facility-list-geocoded", time.Millisecond, testLogger(), func(_ context.Context, msg *IncomingMessage) error {
				called = true
				assert.Equal(t, "src-1", msg.Job.SourceID)
				return tt.handlerErr
			})

			c.handle(context.Background(), tt.msg)

			assert.Equal(t, tt.wantCalled, called)
			if tt.wantCommit {
				assert.Equal(t, []int64{tt.msg.Offset}, r.commits())
			} else {
				assert.Empty(t, r.commits())
			}
		})
	}
}

func TestConsumer_StartStop(t *testing.T) {
	r := &fakeReader{
		fetchErrs: []error{errors.New("broker not available")},
		queue:     []kafka.Message{job(10, `{"source_id":"src-1"}`), job(11, `{"source_id":"src-2"}`)},
	}

	handled := make(chan string, 2)
	c := newConsumer(r, "facility-list-geocoded", time.Millisecond, testLogger(), func(_ context.Context, msg *IncomingMessage) error {
		handled <- msg.Job.SourceID
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	for _, want := range []string{"src-1", "src-2"} {
		select {
		case got := <-handled:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	require.NoError(t, c.Stop())
	assert.True(t, r.closed)
	assert.Equal(t, []int64{10, 11}, r.commits())
	assert.True(t, c.Health())
}
