package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chargeline/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeReader hands out queued messages and then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) state() ([]int64, bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...), f.closed, len(f.queue)
}

func runWorker(t *testing.T, w *KafkaChargeWorker, reader *fakeReader) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		committed, _, pending := reader.state()
		return pending == 0 && len(committed) > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func encodeEvent(t *testing.T, event model.ChargeEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func TestKafkaChargeWorker_RetriesBeforeCommitting(t *testing.T) {
	first := model.ChargeEvent{ID: "e-1", Backend: "redis", Charges: 10, RemainingBalance: 90}
	second := model.ChargeEvent{ID: "e-2", Backend: "redis", Charges: 5, RemainingBalance: 85}

	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: encodeEvent(t, first)},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: encodeEvent(t, second)},
	}}

	rec := new(RecorderMock)
	rec.On("RecordCharge", mock.Anything, first).Return(errors.New("too many connections")).Twice()
	rec.On("RecordCharge", mock.Anything, first).Return(nil).Once()
	rec.On("RecordCharge", mock.Anything, second).Return(nil).Once()

	w := newKafkaChargeWorker(rec, reader, zaptest.NewLogger(t))
	w.minBackoff = time.Millisecond
	w.maxBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		committed, _, _ := reader.state()
		return len(committed) == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	committed, closed, _ := reader.state()
	assert.Equal(t, []int64{1, 2, 3}, committed)
	assert.True(t, closed)
	rec.AssertExpectations(t)
}

func TestKafkaChargeWorker_StopsWithoutCommittingUnrecorded(t *testing.T) {
	event := model.ChargeEvent{ID: "e-1", Backend: "memcached", Charges: 1, RemainingBalance: 99}
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Value: encodeEvent(t, event)},
		{Offset: 8, Value: encodeEvent(t, event)},
	}}

	var calls atomic.Int32
	rec := new(RecorderMock)
	rec.On("RecordCharge", mock.Anything, event).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(errors.New("connection refused"))

	w := newKafkaChargeWorker(rec, reader, zaptest.NewLogger(t))
	w.minBackoff = time.Millisecond
	w.maxBackoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	committed, closed, pending := reader.state()
	assert.Empty(t, committed)
	assert.True(t, closed)
	// the message behind the failing one was never fetched
	assert.Equal(t, 1, pending)
}

func TestKafkaChargeWorker_Run(t *testing.T) {
	event := model.ChargeEvent{ID: "e-9", Backend: "redis", Charges: 100}
	reader := &fakeReader{queue: []kafka.Message{{Offset: 4, Value: encodeEvent(t, event)}}}

	rec := new(RecorderMock)
	rec.On("RecordCharge", mock.Anything, event).Return(nil).Once()

	runWorker(t, newKafkaChargeWorker(rec, reader, zaptest.NewLogger(t)), reader)

	committed, closed, _ := reader.state()
	assert.Equal(t, []int64{4}, committed)
	assert.True(t, closed)
	rec.AssertExpectations(t)
}
