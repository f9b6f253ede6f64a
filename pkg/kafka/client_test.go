package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"plagcheck-go/pkg/tasks"
)

type memAttempts struct {
	counts map[string]int64
	err    error
}

func (m *memAttempts) Incr(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memAttempts) Reset(_ context.Context, key string) {
	delete(m.counts, key)
}

type scriptedProcessor struct {
	errs       []error
	calls      int
	abandoned  []string
	abandonErr error
}

func (p *scriptedProcessor) Abandon(_ context.Context, task tasks.BatchTask) error {
	p.abandoned = append(p.abandoned, task.BatchID)
	return p.abandonErr
}

func (p *scriptedProcessor) Process(context.Context, tasks.BatchTask) error {
	defer func() { p.calls++ }()
	if p.calls < len(p.errs) {
		return p.errs[p.calls]
	}
	return nil
}

func message(t *testing.T, batchID string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.BatchTask{BatchID: batchID})
	assert.NoError(t, err)
	return kafka.Message{Value: b}
}

func newHandler(p TaskProcessor, a attemptCounter) *handler {
	return &handler{processor: p, attempts: a, maxAttempts: 3}
}

func TestHandle_RetriesUntilSuccess(t *testing.T) {
	p := &scriptedProcessor{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	a := &memAttempts{counts: map[string]int64{}}

	assert.True(t, newHandler(p, a).handle(context.Background(), message(t, "b1")))
	assert.Equal(t, 3, p.calls)
	assert.Empty(t, a.counts)
	assert.Empty(t, p.abandoned)
}

func TestHandle_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	p := &scriptedProcessor{errs: []error{boom, boom, boom, boom}}

	assert.True(t, newHandler(p, &memAttempts{counts: map[string]int64{}}).handle(context.Background(), message(t, "b1")))
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []string{"b1"}, p.abandoned)
}

func TestHandle_CommitsEvenWhenAbandonFails(t *testing.T) {
	boom := errors.New("boom")
	p := &scriptedProcessor{errs: []error{boom, boom, boom}, abandonErr: errors.New("db down")}

	assert.True(t, newHandler(p, &memAttempts{counts: map[string]int64{}}).handle(context.Background(), message(t, "b1")))
	assert.Equal(t, []string{"b1"}, p.abandoned)
}

func TestHandle_LocalCountWhenRedisFails(t *testing.T) {
	boom := errors.New("boom")
	p := &scriptedProcessor{errs: []error{boom, boom, boom, boom}}

	assert.True(t, newHandler(p, &memAttempts{err: errors.New("redis down")}).handle(context.Background(), message(t, "b1")))
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []string{"b1"}, p.abandoned)
}

func TestHandle_CommitsMalformedMessage(t *testing.T) {
	p := &scriptedProcessor{}
	assert.True(t, newHandler(p, &memAttempts{counts: map[string]int64{}}).handle(context.Background(), kafka.Message{Value: []byte("{")}))
	assert.Zero(t, p.calls)
}

func TestHandle_DoesNotCommitOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProcessor{errs: []error{context.Canceled}}

	assert.False(t, newHandler(p, &memAttempts{counts: map[string]int64{}}).handle(ctx, message(t, "b1")))
}
