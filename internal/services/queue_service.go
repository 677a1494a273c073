package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"curevo/config"
	"curevo/internal/status"
	"curevo/models"
	"curevo/monitoring"

	"github.com/redis/go-redis/v9"
)

const activeQueuesKey = "active_queues"

// Lane mutations run as Lua scripts: Redis executes scripts one at a time,
// which gives each (doctor, date) queue the serialized view the call-next
// contract needs without a lock structure of our own.

// enqueueScript is idempotent: an appointment already present in either
// lane is left exactly where it is.
const enqueueScript = `
for _, key in ipairs({KEYS[1], KEYS[2]}) do
	local items = redis.call("LRANGE", key, 0, -1)
	for _, item in ipairs(items) do
		local ok, entry = pcall(cjson.decode, item)
		if ok and entry["appointment_id"] == ARGV[1] then
			return {"duplicate", redis.call("LLEN", KEYS[1]) + redis.call("LLEN", KEYS[2])}
		end
	end
end
local lane = KEYS[2]
if ARGV[3] == "emergency" then
	lane = KEYS[1]
end
redis.call("LPUSH", lane, ARGV[2])
redis.call("HSET", KEYS[3], "clinic_id", ARGV[4], "consult_minutes", ARGV[5], "last_updated", ARGV[6])
redis.call("SADD", KEYS[4], ARGV[7])
return {"queued", redis.call("LLEN", KEYS[1]) + redis.call("LLEN", KEYS[2])}
`

// callNextScript pops the emergency lane before the normal lane and records
// the popped token as the one currently being served. "none" means the
// queue was never created, "empty" that both lanes are drained.
const callNextScript = `
if redis.call("EXISTS", KEYS[3]) == 0 and redis.call("EXISTS", KEYS[1]) == 0 and redis.call("EXISTS", KEYS[2]) == 0 then
	return {"none", "", 0}
end
local data = redis.call("RPOP", KEYS[1])
if not data then
	data = redis.call("RPOP", KEYS[2])
end
if not data then
	return {"empty", "", 0}
end
local entry = cjson.decode(data)
redis.call("SET", KEYS[4], entry["token_number"])
redis.call("HSET", KEYS[3], "last_updated", ARGV[1])
return {"ok", data, redis.call("LLEN", KEYS[1]) + redis.call("LLEN", KEYS[2])}
`

// removeScript deletes an appointment from whichever lane holds it. It
// never touches the current-token key.
const removeScript = `
for _, key in ipairs({KEYS[1], KEYS[2]}) do
	local items = redis.call("LRANGE", key, 0, -1)
	for _, item in ipairs(items) do
		local ok, entry = pcall(cjson.decode, item)
		if ok and entry["appointment_id"] == ARGV[1] then
			redis.call("LREM", key, 1, item)
			redis.call("HSET", KEYS[3], "last_updated", ARGV[2])
			return {1, redis.call("LLEN", KEYS[1]) + redis.call("LLEN", KEYS[2])}
		end
	end
end
return {0, redis.call("LLEN", KEYS[1]) + redis.call("LLEN", KEYS[2])}
`

// QueueService owns the per-(doctor, date) waiting queues. Nothing else
// mutates lane contents.
type QueueService struct {
	Redis    *redis.Client
	Notifier *NotifyService
	Config   *config.Config

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewQueueService(redisClient *redis.Client, notifier *NotifyService, cfg *config.Config) *QueueService {
	return &QueueService{
		Redis:    redisClient,
		Notifier: notifier,
		Config:   cfg,
		stopChan: make(chan struct{}),
	}
}

func emergencyLaneKey(doctorID, date string) string {
	return fmt.Sprintf("queue:emergency:%s:%s", doctorID, date)
}

func normalLaneKey(doctorID, date string) string {
	return fmt.Sprintf("queue:normal:%s:%s", doctorID, date)
}

func queueMetaKey(doctorID, date string) string {
	return fmt.Sprintf("queue:meta:%s:%s", doctorID, date)
}

func currentTokenKey(doctorID, date string) string {
	return fmt.Sprintf("queue:current:%s:%s", doctorID, date)
}

func positionSnapshotKey(doctorID, date, appointmentID string) string {
	return fmt.Sprintf("queue:position:%s:%s:%s", doctorID, date, appointmentID)
}

func activeQueueMember(doctorID, date string) string {
	return fmt.Sprintf("%s:%s", doctorID, date)
}

// Enqueue appends the appointment to its priority lane. Re-enqueueing an
// appointment that is already waiting is a no-op.
func (s *QueueService) Enqueue(ctx context.Context, entry *models.QueueEntry, consultMinutes int) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	keys := []string{
		emergencyLaneKey(entry.DoctorID, entry.Date),
		normalLaneKey(entry.DoctorID, entry.Date),
		queueMetaKey(entry.DoctorID, entry.Date),
		activeQueuesKey,
	}
	argv := []interface{}{
		entry.AppointmentID,
		string(data),
		entry.Priority,
		entry.ClinicID,
		consultMinutes,
		time.Now().Unix(),
		activeQueueMember(entry.DoctorID, entry.Date),
	}

	res, err := s.Redis.Eval(ctx, enqueueScript, keys, argv...).Result()
	if err != nil {
		monitoring.TrackQueueOperation("enqueue", entry.DoctorID, "error")
		return fmt.Errorf("enqueue %s: %w", entry.AppointmentID, err)
	}

	outcome, waiting := scriptOutcome(res)
	monitoring.TrackQueueOperation("enqueue", entry.DoctorID, outcome)

	if outcome == "queued" {
		current, _ := s.CurrentToken(ctx, entry.DoctorID, entry.Date)
		s.Notifier.QueueUpdate(entry.ClinicID, entry.DoctorID, current, waiting)
	}
	return nil
}

// CallNext pops the head of the queue: emergencies first, then strict FIFO.
// Returns ErrNoActiveQueue if no queue was ever created for the key and
// ErrQueueEmpty when there is nobody waiting; both are normal outcomes.
func (s *QueueService) CallNext(ctx context.Context, doctorID, date string) (*models.QueueEntry, error) {
	keys := []string{
		emergencyLaneKey(doctorID, date),
		normalLaneKey(doctorID, date),
		queueMetaKey(doctorID, date),
		currentTokenKey(doctorID, date),
	}

	res, err := s.Redis.Eval(ctx, callNextScript, keys, time.Now().Unix()).Result()
	if err != nil {
		monitoring.TrackQueueOperation("call_next", doctorID, "error")
		return nil, fmt.Errorf("call next for %s/%s: %w", doctorID, date, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) < 3 {
		return nil, fmt.Errorf("call next for %s/%s: unexpected script reply %v", doctorID, date, res)
	}

	switch parts[0] {
	case "none":
		monitoring.TrackQueueOperation("call_next", doctorID, "no_queue")
		return nil, status.ErrNoActiveQueue
	case "empty":
		monitoring.TrackQueueOperation("call_next", doctorID, "empty")
		return nil, status.ErrQueueEmpty
	}

	raw, _ := parts[1].(string)
	var entry models.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("call next for %s/%s: corrupt entry: %w", doctorID, date, err)
	}

	waiting := toInt(parts[2])
	monitoring.TrackQueueOperation("call_next", doctorID, "success")
	monitoring.SetCurrentToken(doctorID, entry.TokenNumber)
	s.Notifier.QueueUpdate(entry.ClinicID, doctorID, entry.TokenNumber, waiting)

	return &entry, nil
}

// Remove drops an appointment from its lane (cancellation, no-show).
// Absent appointments are a no-op; the current token is never touched.
func (s *QueueService) Remove(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	keys := []string{
		emergencyLaneKey(entry.DoctorID, entry.Date),
		normalLaneKey(entry.DoctorID, entry.Date),
		queueMetaKey(entry.DoctorID, entry.Date),
	}

	res, err := s.Redis.Eval(ctx, removeScript, keys, entry.AppointmentID, time.Now().Unix()).Result()
	if err != nil {
		monitoring.TrackQueueOperation("remove", entry.DoctorID, "error")
		return false, fmt.Errorf("remove %s: %w", entry.AppointmentID, err)
	}

	parts, _ := res.([]interface{})
	if len(parts) < 2 {
		return false, fmt.Errorf("remove %s: unexpected script reply %v", entry.AppointmentID, res)
	}

	removed := toInt(parts[0]) == 1
	if removed {
		monitoring.TrackQueueOperation("remove", entry.DoctorID, "success")
		s.Redis.Del(ctx, positionSnapshotKey(entry.DoctorID, entry.Date, entry.AppointmentID))
		current, _ := s.CurrentToken(ctx, entry.DoctorID, entry.Date)
		s.Notifier.QueueUpdate(entry.ClinicID, entry.DoctorID, current, toInt(parts[1]))
	}
	return removed, nil
}

// Position is an unlocked snapshot read: a few hundred milliseconds of
// staleness is fine for a wait estimate. Emergency entries rank ahead of
// every normal entry regardless of arrival time.
func (s *QueueService) Position(ctx context.Context, doctorID, date, appointmentID string) (*models.QueuePosition, error) {
	ordered, err := s.orderedEntries(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	for i, entry := range ordered {
		if entry.AppointmentID != appointmentID {
			continue
		}
		ahead := i
		eta := ahead * s.consultMinutes(ctx, doctorID, date)
		monitoring.ObserveWaitEstimate(float64(eta))
		return &models.QueuePosition{
			Position:             i + 1,
			PatientsAhead:        ahead,
			EstimatedWaitMinutes: eta,
		}, nil
	}

	return nil, status.ErrNotInQueue
}

// CurrentToken returns the token being served, 0 when nobody is.
func (s *QueueService) CurrentToken(ctx context.Context, doctorID, date string) (int64, error) {
	val, err := s.Redis.Get(ctx, currentTokenKey(doctorID, date)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// ResetCurrent clears the serving token once a consultation completes.
func (s *QueueService) ResetCurrent(ctx context.Context, doctorID, date string) error {
	return s.Redis.Set(ctx, currentTokenKey(doctorID, date), 0, 0).Err()
}

// Metrics is the aggregate read used by board displays and the dashboard.
func (s *QueueService) Metrics(ctx context.Context, doctorID, date string) (*models.QueueMetrics, error) {
	emergency, err := s.Redis.LLen(ctx, emergencyLaneKey(doctorID, date)).Result()
	if err != nil {
		return nil, err
	}
	normal, err := s.Redis.LLen(ctx, normalLaneKey(doctorID, date)).Result()
	if err != nil {
		return nil, err
	}
	current, err := s.CurrentToken(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	metrics := &models.QueueMetrics{
		DoctorID:         doctorID,
		Date:             date,
		CurrentToken:     current,
		EmergencyWaiting: int(emergency),
		NormalWaiting:    int(normal),
	}

	if raw, err := s.Redis.HGet(ctx, queueMetaKey(doctorID, date), "last_updated").Result(); err == nil {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			metrics.LastUpdated = time.Unix(unix, 0)
		}
	}
	return metrics, nil
}

// Entries returns the full queue in serving order.
func (s *QueueService) Entries(ctx context.Context, doctorID, date string) ([]*models.QueueEntry, error) {
	return s.orderedEntries(ctx, doctorID, date)
}

// ActiveQueues lists every (doctor, date) pair with a live queue.
func (s *QueueService) ActiveQueues(ctx context.Context) ([]models.QueueMetrics, error) {
	members, err := s.Redis.SMembers(ctx, activeQueuesKey).Result()
	if err != nil {
		return nil, err
	}

	queues := make([]models.QueueMetrics, 0, len(members))
	for _, member := range members {
		doctorID, date, ok := splitActiveQueueMember(member)
		if !ok {
			continue
		}
		metrics, err := s.Metrics(ctx, doctorID, date)
		if err != nil {
			continue
		}
		queues = append(queues, *metrics)
	}
	return queues, nil
}

// orderedEntries flattens both lanes into serving order. LPUSH inserts at
// the head, so the tail of each list is the next to be served.
func (s *QueueService) orderedEntries(ctx context.Context, doctorID, date string) ([]*models.QueueEntry, error) {
	ordered := []*models.QueueEntry{}

	for _, key := range []string{emergencyLaneKey(doctorID, date), normalLaneKey(doctorID, date)} {
		items, err := s.Redis.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read lane %s: %w", key, err)
		}
		for i := len(items) - 1; i >= 0; i-- {
			var entry models.QueueEntry
			if err := json.Unmarshal([]byte(items[i]), &entry); err != nil {
				slog.Warn("skipping corrupt queue entry", "key", key, "error", err)
				continue
			}
			ordered = append(ordered, &entry)
		}
	}

	return ordered, nil
}

func (s *QueueService) consultMinutes(ctx context.Context, doctorID, date string) int {
	raw, err := s.Redis.HGet(ctx, queueMetaKey(doctorID, date), "consult_minutes").Result()
	if err == nil {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			return minutes
		}
	}
	return s.Config.DefaultConsultationMinutes
}

// StartBackground launches the position updater and the stale-queue
// cleaner.
func (s *QueueService) StartBackground() {
	s.wg.Add(1)
	go s.positionUpdater()

	s.wg.Add(1)
	go s.staleQueueCleaner()

	slog.Info("queue background tasks started")
}

func (s *QueueService) positionUpdater() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Config.QueuePositionUpdate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateAllPositions()
		case <-s.stopChan:
			return
		}
	}
}

func (s *QueueService) updateAllPositions() {
	ctx := context.Background()

	members, err := s.Redis.SMembers(ctx, activeQueuesKey).Result()
	if err != nil {
		slog.Error("reading active queues", "error", err)
		return
	}

	for _, member := range members {
		doctorID, date, ok := splitActiveQueueMember(member)
		if !ok {
			continue
		}

		ordered, err := s.orderedEntries(ctx, doctorID, date)
		if err != nil {
			continue
		}
		consult := s.consultMinutes(ctx, doctorID, date)

		for i, entry := range ordered {
			position := i + 1
			posKey := positionSnapshotKey(doctorID, date, entry.AppointmentID)
			s.Redis.Set(ctx, posKey, position, 3*s.Config.QueuePositionUpdate)

			if shouldNotifyPosition(position) {
				s.Notifier.PositionUpdate(entry.AppointmentID, position, i, i*consult)
			}
		}
	}
}

// shouldNotifyPosition throttles pushes for the back of long queues.
func shouldNotifyPosition(position int) bool {
	switch {
	case position <= 5:
		return true
	case position <= 20:
		return position%2 == 0
	default:
		return position%10 == 0
	}
}

func (s *QueueService) staleQueueCleaner() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupStaleQueues(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// CleanupStaleQueues drops queue keys for past dates. Queues are
// conceptually reset each calendar day; this just reclaims the storage.
func (s *QueueService) CleanupStaleQueues(ctx context.Context) {
	today := time.Now().Format(models.DateLayout)

	members, err := s.Redis.SMembers(ctx, activeQueuesKey).Result()
	if err != nil {
		slog.Error("reading active queues for cleanup", "error", err)
		return
	}

	cleaned := 0
	for _, member := range members {
		doctorID, date, ok := splitActiveQueueMember(member)
		if !ok || date >= today {
			continue
		}

		s.Redis.Del(ctx,
			emergencyLaneKey(doctorID, date),
			normalLaneKey(doctorID, date),
			queueMetaKey(doctorID, date),
			currentTokenKey(doctorID, date),
		)
		s.Redis.SRem(ctx, activeQueuesKey, member)
		cleaned++
	}

	if cleaned > 0 {
		slog.Info("cleaned stale queues", "count", cleaned)
	}
}

// Shutdown stops the background goroutines and waits for them.
func (s *QueueService) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("queue service stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("timeout waiting for queue background tasks")
	}
}

func splitActiveQueueMember(member string) (doctorID, date string, ok bool) {
	idx := strings.Index(member, ":")
	if idx <= 0 || idx >= len(member)-1 {
		return "", "", false
	}
	return member[:idx], member[idx+1:], true
}

func scriptOutcome(res interface{}) (string, int) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) < 2 {
		return "error", 0
	}
	outcome, _ := parts[0].(string)
	return outcome, toInt(parts[1])
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case string:
		parsed, _ := strconv.Atoi(n)
		return parsed
	default:
		return 0
	}
}
