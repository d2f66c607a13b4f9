package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/internal/repository/inmem"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

func newTestProcessor(t *testing.T) (*Processor, *inmem.Storage) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	storage := inmem.NewStorage()
	processor := NewProcessor(storage.EventStore(), config.EventStore{
		MaxProcessingAttempts: 3,
		StuckThresholdSec:     300,
		PollingRateSec:        1,
	}, log)
	return processor, storage
}

func enqueue(t *testing.T, storage *inmem.Storage, kind model.EventKind, payload interface{}) model.EventEntry {
	t.Helper()
	event, err := model.NewEvent(kind, payload)
	require.NoError(t, err)
	entry, err := storage.EventStore().AddEvent(context.Background(), event)
	require.NoError(t, err)
	return entry
}

func TestProcessorCompletesEvent(t *testing.T) {
	processor, storage := newTestProcessor(t)
	ctx := context.Background()

	var got []json.RawMessage
	processor.Register(model.EventKindNoOp, func(_ context.Context, raw json.RawMessage) error {
		got = append(got, raw)
		return nil
	})
	entry := enqueue(t, storage, model.EventKindNoOp, map[string]string{"hello": "world"})

	processor.ProcessOnce(ctx)

	require.Len(t, got, 1)
	assert.JSONEq(t, `{"hello":"world"}`, string(got[0]))
	stored, ok := storage.EventByID(entry.ID)
	require.True(t, ok)
	assert.Equal(t, model.EventStatusCompleted, stored.Status)
	assert.Equal(t, int32(1), stored.AttemptCount)

	// nothing left to deliver
	processor.ProcessOnce(ctx)
	require.Len(t, got, 1)
}

func TestProcessorRetriesUntilAttemptCeiling(t *testing.T) {
	processor, storage := newTestProcessor(t)
	ctx := context.Background()

	calls := 0
	processor.Register(model.EventKindNoOp, func(context.Context, json.RawMessage) error {
		calls++
		return errs.New(errs.KindTransientExternal, "downstream unavailable")
	})
	entry := enqueue(t, storage, model.EventKindNoOp, nil)

	for i := 0; i < 5; i++ {
		processor.ProcessOnce(ctx)
	}

	assert.Equal(t, 3, calls, "delivery stops at the attempt ceiling")
	stored, ok := storage.EventByID(entry.ID)
	require.True(t, ok)
	assert.Equal(t, model.EventStatusFailed, stored.Status)
	assert.Equal(t, int32(3), stored.AttemptCount)
}

func TestProcessorFailsUnknownKind(t *testing.T) {
	processor, storage := newTestProcessor(t)
	ctx := context.Background()

	entry := enqueue(t, storage, model.EventKind("vanished"), nil)
	for i := 0; i < 3; i++ {
		processor.ProcessOnce(ctx)
	}

	stored, ok := storage.EventByID(entry.ID)
	require.True(t, ok)
	assert.Equal(t, model.EventStatusFailed, stored.Status)
}

func TestProcessorClaimsOldestFirst(t *testing.T) {
	processor, storage := newTestProcessor(t)
	ctx := context.Background()

	var seen []string
	processor.Register(model.EventKindNoOp, func(_ context.Context, raw json.RawMessage) error {
		var payload map[string]string
		require.NoError(t, json.Unmarshal(raw, &payload))
		seen = append(seen, payload["n"])
		return nil
	})
	enqueue(t, storage, model.EventKindNoOp, map[string]string{"n": "first"})
	enqueue(t, storage, model.EventKindNoOp, map[string]string{"n": "second"})

	processor.ProcessOnce(ctx)
	processor.ProcessOnce(ctx)

	assert.Equal(t, []string{"first", "second"}, seen, "one claim per cycle, oldest first")
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	_, storage := newTestProcessor(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		enqueue(t, storage, model.EventKindNoOp, nil)
	}

	start := make(chan struct{})
	claimed := make([][]model.EventEntry, 2)
	claimErrs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			claimed[i], claimErrs[i] = storage.EventStore().GetEventsForProcessing(ctx, 3)
		}(i)
	}
	close(start)
	wg.Wait()

	seen := map[int64]bool{}
	total := 0
	for i := range claimed {
		require.NoError(t, claimErrs[i])
		for _, entry := range claimed[i] {
			assert.False(t, seen[entry.ID], "event %d handed to both workers", entry.ID)
			seen[entry.ID] = true
			total++
		}
	}
	assert.Equal(t, 6, total, "every pending event is claimed exactly once")
}

func TestProcessorHonorsSchedule(t *testing.T) {
	processor, storage := newTestProcessor(t)
	ctx := context.Background()

	calls := 0
	processor.Register(model.EventKindNoOp, func(context.Context, json.RawMessage) error {
		calls++
		return nil
	})
	event, err := model.NewEvent(model.EventKindNoOp, nil)
	require.NoError(t, err)
	future, err := storage.EventStore().AddScheduledEvent(ctx, event, time.Now().Add(time.Hour))
	require.NoError(t, err)
	due, err := storage.EventStore().AddScheduledEvent(ctx, event, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	processor.ProcessOnce(ctx)
	processor.ProcessOnce(ctx)

	assert.Equal(t, 1, calls, "only the due event is delivered")
	stored, ok := storage.EventByID(due.ID)
	require.True(t, ok)
	assert.Equal(t, model.EventStatusCompleted, stored.Status)
	stored, ok = storage.EventByID(future.ID)
	require.True(t, ok)
	assert.Equal(t, model.EventStatusPending, stored.Status)
}
