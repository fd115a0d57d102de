package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	done      chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, done: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.done:
		return kafka.Message{}, io.EOF
	}
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
	close(r.done)
	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestMessageBuilder(t *testing.T) {
	msg, err := NewMessage().
		WithKey("user-1").
		WithValue(map[string]string{"kind": "booking_created"}).
		WithEventType("booking_created").
		WithCorrelationID("req-1").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "user-1", msg.Key)
	assert.JSONEq(t, `{"kind":"booking_created"}`, string(msg.Value))
	assert.NotEmpty(t, msg.GetEventID())
	assert.Equal(t, "req-1", msg.GetCorrelationID())
	assert.Equal(t, "1", msg.Headers[HeaderSchemaVersion])
}

func TestMessageBuilder_UnencodableValue(t *testing.T) {
	_, err := NewMessage().WithKey("k").WithValue(make(chan int)).Build()
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestRetryCount(t *testing.T) {
	msg := Message{}
	assert.Equal(t, 0, msg.GetRetryCount())

	for i := 0; i < 12; i++ {
		msg.IncrementRetryCount()
	}
	assert.Equal(t, 12, msg.GetRetryCount())
	assert.Equal(t, "12", msg.Headers[HeaderRetryCount])
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorTypeTransient, ClassifyError(errors.New("dial tcp: Connection Refused")))
	assert.Equal(t, ErrorTypePermanent, ClassifyError(errors.New("appointment not found")))
	assert.Equal(t, ErrorTypeTransient, ClassifyError(NewTransientError("db", errors.New("x"))))
	assert.Equal(t, ErrorTypePermanent, ClassifyError(NewPermanentError("bad", nil)))

	assert.True(t, ShouldRetry(NewTransientError("db", nil), 0, 3))
	assert.False(t, ShouldRetry(NewTransientError("db", nil), 3, 3))
	assert.False(t, ShouldRetry(nil, 0, 3))
}

func TestProducer_Publish(t *testing.T) {
	writer := &fakeWriter{}
	p := NewProducerWithWriter(writer, nil, "notifications", nil)

	var seen string
	p.Use(func(ctx context.Context, msg Message, next func(context.Context, Message) error) error {
		seen = msg.Topic
		return next(ctx, msg)
	})

	msg, err := NewMessage().WithKey("user-1").WithValue("hi").Build()
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), msg))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "user-1", string(writer.messages[0].Key))
	assert.Equal(t, msg.GetEventID(), header(writer.messages[0], HeaderEventID))
	assert.Equal(t, "notifications", seen)
}

func TestProducer_RejectsInvalidAndClosed(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{}, nil, "t", nil)

	assert.ErrorIs(t, p.Publish(context.Background(), Message{Value: []byte("x")}), ErrEmptyKey)
	assert.ErrorIs(t, p.Publish(context.Background(), Message{Key: "k"}), ErrEmptyValue)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), Message{Key: "k", Value: []byte("x")}), ErrProducerClosed)
}

func TestProducer_FailedWriteGoesToDLQ(t *testing.T) {
	writeErr := errors.New("broker down")
	dlq := &fakeWriter{}
	p := NewProducerWithWriter(&fakeWriter{err: writeErr}, dlq, "notifications", nil)

	err := p.Publish(context.Background(), Message{Key: "k", Value: []byte("x"), Headers: map[string]string{}})
	assert.ErrorIs(t, err, writeErr)

	require.Len(t, dlq.messages, 1)
	assert.Equal(t, "notifications", header(dlq.messages[0], HeaderOriginalTopic))
	assert.Equal(t, "broker down", header(dlq.messages[0], HeaderDLQError))
}

func runConsumer(t *testing.T, c *Consumer, reader *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == want
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	<-done
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Key: []byte("a"), Value: []byte(`{}`), Offset: 1},
		kafka.Message{Key: []byte("b"), Value: []byte(`{}`), Offset: 2},
	)

	var mu sync.Mutex
	var keys []string
	c := NewConsumerWithReader(reader, nil, "sessions", "group", func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, msg.Key)
		return nil
	}, nil)

	runConsumer(t, c, reader, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, []int64{1, 2}, reader.committedOffsets())
}

func TestConsumer_RetriesTransientThenParksInDLQ(t *testing.T) {
	reader := newFakeReader(kafka.Message{Key: []byte("a"), Value: []byte(`{}`), Offset: 7})
	dlq := &fakeWriter{}

	var mu sync.Mutex
	calls := 0
	c := NewConsumerWithReader(reader, dlq, "sessions", "group", func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return NewTransientError("mongo", errors.New("timeout"))
	}, nil)
	c.backoff = time.Millisecond

	runConsumer(t, c, reader, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, c.maxRetries+1, calls)
	require.Len(t, dlq.messages, 1)
	assert.Equal(t, "group", header(dlq.messages[0], HeaderDLQGroup))
	assert.Equal(t, "3", header(dlq.messages[0], HeaderRetryCount))
}

func TestConsumer_PermanentErrorIsNotRetried(t *testing.T) {
	reader := newFakeReader(kafka.Message{Key: []byte("a"), Value: []byte(`{}`), Offset: 3})

	var mu sync.Mutex
	calls := 0
	c := NewConsumerWithReader(reader, nil, "sessions", "group", func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return NewPermanentError("bad payload", nil)
	}, nil)

	runConsumer(t, c, reader, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
