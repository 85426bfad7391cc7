package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrNotFound is returned when a key or row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultSessionTTL bounds how long live session keys survive without activity.
const DefaultSessionTTL = 24 * time.Hour

// SessionStateRepository keeps the live state of every exam session in Redis:
// the latest snapshot, answers, review set and question order, plus the persist
// queues and the monitor channel.
type SessionStateRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStateRepository creates a new SessionStateRepository.
func NewSessionStateRepository(rdb *redis.Client) *SessionStateRepository {
	return &SessionStateRepository{rdb: rdb, ttl: DefaultSessionTTL}
}

// SaveSnapshot stores the latest snapshot of a session.
func (r *SessionStateRepository) SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := config.CacheKey.SessionSnapshotKey(snap.TestID, snap.StudentID)
	return r.rdb.Set(ctx, key, data, r.ttl).Err()
}

// GetSnapshot returns the latest stored snapshot.
func (r *SessionStateRepository) GetSnapshot(ctx context.Context, testID string, studentID int) (*model.SessionSnapshot, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionSnapshotKey(testID, studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var snap model.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SetAnswer writes or, with a nil answer, clears the answer for an original
// question index. Either way the index leaves the review set.
func (r *SessionStateRepository) SetAnswer(ctx context.Context, testID string, studentID, index int, a *model.Answer) error {
	answersKey := config.CacheKey.SessionAnswersKey(testID, studentID)
	reviewKey := config.CacheKey.SessionReviewKey(testID, studentID)
	field := strconv.Itoa(index)

	pipe := r.rdb.TxPipeline()
	if a == nil {
		pipe.HDel(ctx, answersKey, field)
	} else {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal answer: %w", err)
		}
		pipe.HSet(ctx, answersKey, field, data)
		pipe.Expire(ctx, answersKey, r.ttl)
	}
	pipe.SRem(ctx, reviewKey, field)
	_, err := pipe.Exec(ctx)
	return err
}

// GetAnswers returns the stored answers keyed by original question index.
func (r *SessionStateRepository) GetAnswers(ctx context.Context, testID string, studentID int) (map[int]model.Answer, error) {
	raw, err := r.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(testID, studentID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int]model.Answer, len(raw))
	for field, value := range raw {
		idx, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		var a model.Answer
		if err := json.Unmarshal([]byte(value), &a); err != nil {
			return nil, fmt.Errorf("unmarshal answer %d: %w", idx, err)
		}
		out[idx] = a
	}
	return out, nil
}

// SetReview flags or unflags an original question index for review.
func (r *SessionStateRepository) SetReview(ctx context.Context, testID string, studentID, index int, on bool) error {
	key := config.CacheKey.SessionReviewKey(testID, studentID)
	field := strconv.Itoa(index)
	if !on {
		return r.rdb.SRem(ctx, key, field).Err()
	}
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, key, field)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetReview returns the flagged original indices in ascending order.
func (r *SessionStateRepository) GetReview(ctx context.Context, testID string, studentID int) ([]int, error) {
	members, err := r.rdb.SMembers(ctx, config.CacheKey.SessionReviewKey(testID, studentID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		if idx, err := strconv.Atoi(m); err == nil {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out, nil
}

// SaveOrder stores the shuffled question order so a restarted session reuses it.
func (r *SessionStateRepository) SaveOrder(ctx context.Context, testID string, studentID int, order []int) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.SessionOrderKey(testID, studentID), data, r.ttl).Err()
}

// GetOrder returns the stored question order.
func (r *SessionStateRepository) GetOrder(ctx context.Context, testID string, studentID int) ([]int, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionOrderKey(testID, studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var order []int
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return order, nil
}

// SetActiveTest records which test a student is currently taking.
func (r *SessionStateRepository) SetActiveTest(ctx context.Context, studentID int, testID string) error {
	return r.rdb.Set(ctx, config.CacheKey.StudentActiveTestKey(studentID), testID, r.ttl).Err()
}

// ClearActiveTest removes the active-test marker if it still points at testID.
func (r *SessionStateRepository) ClearActiveTest(ctx context.Context, studentID int, testID string) error {
	key := config.CacheKey.StudentActiveTestKey(studentID)
	current, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if current != testID {
		return nil
	}
	return r.rdb.Del(ctx, key).Err()
}

// TryLatchSubmit sets the submit latch. It reports false if the session was already latched.
func (r *SessionStateRepository) TryLatchSubmit(ctx context.Context, testID string, studentID int) (bool, error) {
	key := config.CacheKey.SessionSubmitLatchKey(testID, studentID)
	return r.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
}

// SubmitLatched reports whether the session's submit latch is set.
func (r *SessionStateRepository) SubmitLatched(ctx context.Context, testID string, studentID int) (bool, error) {
	n, err := r.rdb.Exists(ctx, config.CacheKey.SessionSubmitLatchKey(testID, studentID)).Result()
	return n > 0, err
}

// ExpireSession shortens the lifetime of every live key of a finished session.
// The submit latch keeps its full TTL.
func (r *SessionStateRepository) ExpireSession(ctx context.Context, testID string, studentID int, after time.Duration) error {
	pipe := r.rdb.Pipeline()
	for _, key := range []string{
		config.CacheKey.SessionSnapshotKey(testID, studentID),
		config.CacheKey.SessionAnswersKey(testID, studentID),
		config.CacheKey.SessionReviewKey(testID, studentID),
		config.CacheKey.SessionOrderKey(testID, studentID),
	} {
		pipe.Expire(ctx, key, after)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Enqueue pushes v as JSON onto a persist queue.
func (r *SessionStateRepository) Enqueue(ctx context.Context, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s item: %w", queue, err)
	}
	return r.rdb.RPush(ctx, queue, data).Err()
}

// PublishMonitor publishes an event on the test's monitor channel.
func (r *SessionStateRepository) PublishMonitor(ctx context.Context, ev model.MonitorEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID), data).Err()
}

// SubscribeMonitor subscribes to a test's monitor channel.
func (r *SessionStateRepository) SubscribeMonitor(ctx context.Context, testID string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.TestMonitorChannel(testID))
}
