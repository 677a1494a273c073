package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"curevo/config"
	"curevo/internal/status"
	"curevo/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueueService(t *testing.T) *QueueService {
	t.Helper()
	cfg := &config.Config{
		DefaultConsultationMinutes: 15,
		QueuePositionUpdate:        5 * time.Second,
		CleanupInterval:            time.Hour,
	}
	return NewQueueService(testRedis(t), NewNotifyService(nil), cfg)
}

func entry(apptID string, token int64, priority string) *models.QueueEntry {
	return &models.QueueEntry{
		AppointmentID: apptID,
		PatientID:     "patient-" + apptID,
		DoctorID:      "doc1",
		ClinicID:      "clinic1",
		Date:          "2026-06-22",
		TokenNumber:   token,
		Priority:      priority,
		EnqueuedAt:    time.Now(),
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, svc.Enqueue(ctx, entry(id, int64(i+1), models.PriorityNormal), 15))
	}

	for _, want := range []string{"a1", "a2", "a3"} {
		got, err := svc.CallNext(ctx, "doc1", "2026-06-22")
		require.NoError(t, err)
		assert.Equal(t, want, got.AppointmentID)
	}
}

func TestQueue_EmergencyJumpsAhead(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	// Tokens 1-3 waiting normally, token 4 arrives as an emergency.
	require.NoError(t, svc.Enqueue(ctx, entry("a1", 1, models.PriorityNormal), 15))
	require.NoError(t, svc.Enqueue(ctx, entry("a2", 2, models.PriorityNormal), 15))
	require.NoError(t, svc.Enqueue(ctx, entry("a3", 3, models.PriorityNormal), 15))
	require.NoError(t, svc.Enqueue(ctx, entry("a4", 4, models.PriorityEmergency), 15))

	var called []int64
	for i := 0; i < 4; i++ {
		got, err := svc.CallNext(ctx, "doc1", "2026-06-22")
		require.NoError(t, err)
		called = append(called, got.TokenNumber)
	}

	assert.Equal(t, []int64{4, 1, 2, 3}, called)
}

func TestQueue_CallNextDistinguishesEmptyFromMissing(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	_, err := svc.CallNext(ctx, "doc1", "2026-06-22")
	assert.ErrorIs(t, err, status.ErrNoActiveQueue)

	require.NoError(t, svc.Enqueue(ctx, entry("a1", 1, models.PriorityNormal), 15))
	_, err = svc.CallNext(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)

	// Queue exists but is drained now.
	_, err = svc.CallNext(ctx, "doc1", "2026-06-22")
	assert.ErrorIs(t, err, status.ErrQueueEmpty)
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	e := entry("a1", 1, models.PriorityNormal)
	require.NoError(t, svc.Enqueue(ctx, e, 15))
	require.NoError(t, svc.Enqueue(ctx, e, 15))

	metrics, err := svc.Metrics(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.WaitingCount())
}

func TestQueue_RemoveShiftsPositions(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, entry("a1", 1, models.PriorityNormal), 15))
	require.NoError(t, svc.Enqueue(ctx, entry("a2", 2, models.PriorityNormal), 15))
	require.NoError(t, svc.Enqueue(ctx, entry("a3", 3, models.PriorityNormal), 15))

	pos, err := svc.Position(ctx, "doc1", "2026-06-22", "a3")
	require.NoError(t, err)
	assert.Equal(t, 3, pos.Position)

	removed, err := svc.Remove(ctx, entry("a2", 2, models.PriorityNormal))
	require.NoError(t, err)
	assert.True(t, removed)

	pos, err = svc.Position(ctx, "doc1", "2026-06-22", "a3")
	require.NoError(t, err)
	assert.Equal(t, 2, pos.Position)
	assert.Equal(t, 1, pos.PatientsAhead)

	_, err = svc.Position(ctx, "doc1", "2026-06-22", "a2")
	assert.ErrorIs(t, err, status.ErrNotInQueue)
}

func TestQueue_RemoveMissingIsNoop(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, entry("a1", 1, models.PriorityNormal), 15))

	removed, err := svc.Remove(ctx, entry("ghost", 9, models.PriorityNormal))
	require.NoError(t, err)
	assert.False(t, removed)

	metrics, err := svc.Metrics(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.WaitingCount())
}

func TestQueue_PositionRanksEmergencyFirst(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, entry("a1", 1, models.PriorityNormal), 15))
	require.NoError(t, svc.Enqueue(ctx, entry("a2", 2, models.PriorityEmergency), 15))

	emergency, err := svc.Position(ctx, "doc1", "2026-06-22", "a2")
	require.NoError(t, err)
	assert.Equal(t, 1, emergency.Position)
	assert.Equal(t, 0, emergency.PatientsAhead)

	normal, err := svc.Position(ctx, "doc1", "2026-06-22", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, normal.Position)
	assert.Equal(t, 1, normal.PatientsAhead)
	assert.Equal(t, 15, normal.EstimatedWaitMinutes)
}

func TestQueue_EstimatedWaitUsesClinicMinutes(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, entry("a1", 1, models.PriorityNormal), 30))
	require.NoError(t, svc.Enqueue(ctx, entry("a2", 2, models.PriorityNormal), 30))

	pos, err := svc.Position(ctx, "doc1", "2026-06-22", "a2")
	require.NoError(t, err)
	assert.Equal(t, 30, pos.EstimatedWaitMinutes)
}

func TestQueue_ConcurrentCallNextNoDuplicates(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	const n = 20
	for i := 1; i <= n; i++ {
		require.NoError(t, svc.Enqueue(ctx, entry(fmt.Sprintf("appt%d", i), int64(i), models.PriorityNormal), 15))
	}

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.CallNext(ctx, "doc1", "2026-06-22")
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[got.TokenNumber], "token %d called twice", got.TokenNumber)
			seen[got.TokenNumber] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestQueue_CurrentTokenTracksCalls(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	current, err := svc.CurrentToken(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	require.NoError(t, svc.Enqueue(ctx, entry("a1", 7, models.PriorityNormal), 15))
	_, err = svc.CallNext(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)

	current, err = svc.CurrentToken(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)
	assert.Equal(t, int64(7), current)

	require.NoError(t, svc.ResetCurrent(ctx, "doc1", "2026-06-22"))
	current, err = svc.CurrentToken(ctx, "doc1", "2026-06-22")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)
}

func TestQueue_CleanupStaleQueues(t *testing.T) {
	svc := testQueueService(t)
	ctx := context.Background()

	stale := entry("old", 1, models.PriorityNormal)
	stale.Date = "2020-01-01"
	require.NoError(t, svc.Enqueue(ctx, stale, 15))

	today := time.Now().Format(models.DateLayout)
	fresh := entry("new", 1, models.PriorityNormal)
	fresh.Date = today
	require.NoError(t, svc.Enqueue(ctx, fresh, 15))

	svc.CleanupStaleQueues(ctx)

	staleMetrics, err := svc.Metrics(ctx, "doc1", "2020-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, staleMetrics.WaitingCount())

	freshMetrics, err := svc.Metrics(ctx, "doc1", today)
	require.NoError(t, err)
	assert.Equal(t, 1, freshMetrics.WaitingCount())
}
