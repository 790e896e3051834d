package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// TaskKind identifies the work a queued message asks for.
type TaskKind string

const (
	TaskCapture                TaskKind = "capture"
	TaskQueryStatus            TaskKind = "query_status"
	TaskCollectFees            TaskKind = "collect_fees"
	TaskDeleteStoredInstrument TaskKind = "delete_stored_instrument"
)

// Message is one unit of asynchronous work. Target is the external id of the
// charge (or payment) the task acts on. Attempts counts deliveries of this
// message, including the current one.
type Message struct {
	ID       string   `json:"id"`
	Kind     TaskKind `json:"kind"`
	Target   string   `json:"target"`
	Attempts int      `json:"attempts"`
}

// TaskQueue is the durable at-least-once queue the workers consume. A
// message is removed only by Ack; ScheduleRetry re-delivers it after the
// given delay. A message whose consumer dies without acking is re-delivered
// once its lease expires. Consumers must be idempotent with respect to
// redelivery.
type TaskQueue interface {
	Send(ctx context.Context, kind TaskKind, target string) error
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	ScheduleRetry(ctx context.Context, msg Message, delay time.Duration) error
}

// redisCommands is the slice of the Redis command set the queue uses.
// *redis.Client satisfies it.
type redisCommands interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

// Lease length for an in-flight message. A consumer that has not acked or
// scheduled a retry within this window is presumed dead and the message is
// pushed back onto the ready list.
const defaultLease = 5 * time.Minute

// RedisQueue implements TaskQueue on Redis: a ready list for immediate work,
// a processing list holding in-flight deliveries, a lease sorted set scoring
// each in-flight payload by its reclaim time, and a delayed sorted set
// scored by the unix time a retried message becomes due. Receive moves
// messages from ready to processing with LMOVE, so a consumer crash leaves
// the payload in the processing list until its lease expires and it is
// reclaimed; only Ack (or ScheduleRetry) removes it.
type RedisQueue struct {
	client    redisCommands
	namespace string
	lease     time.Duration
}

// NewRedisQueue creates a RedisQueue. Namespace prefixes every key so
// several deployments can share one Redis.
func NewRedisQueue(client *redis.Client, namespace string) *RedisQueue {
	return &RedisQueue{client: client, namespace: namespace, lease: defaultLease}
}

func (q *RedisQueue) readyKey() string      { return q.namespace + ":tasks:ready" }
func (q *RedisQueue) processingKey() string { return q.namespace + ":tasks:processing" }
func (q *RedisQueue) leaseKey() string      { return q.namespace + ":tasks:leases" }
func (q *RedisQueue) delayedKey() string    { return q.namespace + ":tasks:delayed" }

// Send enqueues a new message for immediate delivery.
func (q *RedisQueue) Send(ctx context.Context, kind TaskKind, target string) error {
	msg := Message{ID: uuid.New().String(), Kind: kind, Target: target}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s task for %s: %w", kind, target, err)
	}
	return nil
}

// Receive returns up to max due messages. Each returned message has its
// Attempts counter already incremented for this delivery; the payload stays
// on the processing list until the message is acked or retried.
func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if err := q.promoteDue(ctx); err != nil {
		// Promotion failure only delays retries; ready work still flows.
		log.Warn().Err(err).Msg("Failed to promote delayed tasks")
	}
	if err := q.reclaimExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to reclaim expired task leases")
	}

	msgs := make([]Message, 0, max)
	for len(msgs) < max {
		raw, err := q.client.LMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return msgs, fmt.Errorf("failed to pop task: %w", err)
		}
		// Lease before decoding so the payload is never in processing
		// without a reclaim time.
		expiry := float64(time.Now().Add(q.lease).Unix())
		if err := q.client.ZAdd(ctx, q.leaseKey(), redis.Z{Score: expiry, Member: raw}).Err(); err != nil {
			return msgs, fmt.Errorf("failed to lease task: %w", err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			log.Error().Str("payload", raw).Err(err).Msg("Dropping undecodable task message")
			q.discard(ctx, raw)
			continue
		}
		msg.Attempts++
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ack removes an in-flight message from the processing list, completing its
// delivery.
func (q *RedisQueue) Ack(ctx context.Context, msg Message) error {
	raw, err := deliveredPayload(msg)
	if err != nil {
		return err
	}
	q.discard(ctx, raw)
	return nil
}

// ScheduleRetry moves the message from the processing list to the delayed
// set, due after delay. The delayed entry is written before the processing
// copy is dropped: a crash in between re-delivers the message, it never
// loses it.
func (q *RedisQueue) ScheduleRetry(ctx context.Context, msg Message, delay time.Duration) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}
	due := float64(time.Now().Add(delay).Unix())
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", msg.ID, err)
	}
	raw, err := deliveredPayload(msg)
	if err != nil {
		return err
	}
	q.discard(ctx, raw)
	return nil
}

// promoteDue moves messages whose due time has passed from the delayed set
// to the ready list. Push first, remove second: a crash in between
// duplicates a delivery, it never loses the scheduled retry. Consumers
// tolerate the duplicate.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
			return err
		}
		if err := q.client.ZRem(ctx, q.delayedKey(), raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// reclaimExpired pushes processing payloads whose lease has lapsed back onto
// the ready list. Same ordering as promoteDue: the ready push lands before
// the processing copy goes away.
func (q *RedisQueue) reclaimExpired(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, q.leaseKey(), &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range expired {
		if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
			return err
		}
		q.discard(ctx, raw)
	}
	return nil
}

// discard drops one processing copy of the payload and its lease. Failures
// are logged, not returned: the lease reclaim sweep re-delivers anything
// left behind.
func (q *RedisQueue) discard(ctx context.Context, raw string) {
	if err := q.client.LRem(ctx, q.processingKey(), 1, raw).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to remove task from processing list")
	}
	if err := q.client.ZRem(ctx, q.leaseKey(), raw).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to release task lease")
	}
}

// deliveredPayload reconstructs the exact bytes sitting on the processing
// list for a delivered message. Receive increments Attempts in memory after
// the move, so the stored payload carries one delivery fewer.
func deliveredPayload(msg Message) (string, error) {
	msg.Attempts--
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task message: %w", err)
	}
	return string(payload), nil
}
