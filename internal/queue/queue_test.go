package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements redisCommands on in-memory lists and sorted sets.
// List index 0 is the head (the LPUSH side). failLPush, when set, makes the
// next LPush fail once.
type fakeRedis struct {
	lists     map[string][]string
	zsets     map[string]map[string]float64
	failLPush error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists: make(map[string][]string),
		zsets: make(map[string]map[string]float64),
	}
}

func memberString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.failLPush != nil {
		err := f.failLPush
		f.failLPush = nil
		return redis.NewIntResult(0, err)
	}
	for _, v := range values {
		f.lists[key] = append([]string{memberString(v)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd {
	src := f.lists[source]
	if len(src) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	raw := src[len(src)-1]
	f.lists[source] = src[:len(src)-1]
	f.lists[destination] = append([]string{raw}, f.lists[destination]...)
	return redis.NewStringResult(raw, nil)
}

func (f *fakeRedis) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	want := memberString(value)
	var kept []string
	removed := int64(0)
	for _, v := range f.lists[key] {
		if v == want && removed < count {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	f.lists[key] = kept
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	set := f.zsets[key]
	if set == nil {
		set = make(map[string]float64)
		f.zsets[key] = set
	}
	added := int64(0)
	for _, m := range members {
		member := memberString(m.Member)
		if _, ok := set[member]; !ok {
			added++
		}
		set[member] = m.Score
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	removed := int64(0)
	for _, m := range members {
		member := memberString(m)
		if _, ok := f.zsets[key][member]; ok {
			delete(f.zsets[key], member)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	max, err := strconv.ParseFloat(opt.Max, 64)
	if err != nil {
		return redis.NewStringSliceResult(nil, err)
	}
	var members []string
	for member, score := range f.zsets[key] {
		if score <= max {
			members = append(members, member)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := f.zsets[key][members[i]], f.zsets[key][members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return redis.NewStringSliceResult(members, nil)
}

func newTestQueue() (*RedisQueue, *fakeRedis) {
	fake := newFakeRedis()
	return &RedisQueue{client: fake, namespace: "test", lease: time.Minute}, fake
}

func TestQueueDeliversAndAcks(t *testing.T) {
	q, fake := newTestQueue()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, TaskCapture, "ch_1"))

	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TaskCapture, msgs[0].Kind)
	assert.Equal(t, "ch_1", msgs[0].Target)
	assert.Equal(t, 1, msgs[0].Attempts)

	// In flight until acked.
	assert.Empty(t, fake.lists[q.readyKey()])
	assert.Len(t, fake.lists[q.processingKey()], 1)

	require.NoError(t, q.Ack(ctx, msgs[0]))
	assert.Empty(t, fake.lists[q.processingKey()])
	assert.Empty(t, fake.zsets[q.leaseKey()])

	msgs, err = q.Receive(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestQueueRedeliversWhenConsumerDies(t *testing.T) {
	q, fake := newTestQueue()
	q.lease = -time.Second // every delivery's lease is already lapsed
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, TaskQueryStatus, "ch_2"))

	first, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, first, 1)
	// No Ack: the consumer went away mid-task.

	second, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "ch_2", second[0].Target)
	assert.Len(t, fake.lists[q.processingKey()], 1)
}

func TestQueueAckEndsRedelivery(t *testing.T) {
	q, _ := newTestQueue()
	q.lease = -time.Second
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, TaskCollectFees, "ch_3"))

	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, q.Ack(ctx, msgs[0]))

	msgs, err = q.Receive(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestQueueScheduleRetryRedelivers(t *testing.T) {
	q, fake := newTestQueue()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, TaskCapture, "ch_4"))

	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.ScheduleRetry(ctx, msgs[0], 0))
	assert.Empty(t, fake.lists[q.processingKey()])
	assert.Empty(t, fake.zsets[q.leaseKey()])
	assert.Len(t, fake.zsets[q.delayedKey()], 1)

	again, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, msgs[0].ID, again[0].ID)
	assert.Equal(t, 2, again[0].Attempts)
}

func TestQueuePromotionKeepsRetryWhenPushFails(t *testing.T) {
	q, fake := newTestQueue()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, TaskCapture, "ch_5"))
	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, q.ScheduleRetry(ctx, msgs[0], 0))

	// Promotion fails before the message reaches the ready list; the
	// delayed entry must survive for the next sweep.
	fake.failLPush = fmt.Errorf("connection reset")
	msgs, err = q.Receive(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Len(t, fake.zsets[q.delayedKey()], 1)

	msgs, err = q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ch_5", msgs[0].Target)
}

func TestQueueDropsUndecodablePayload(t *testing.T) {
	q, fake := newTestQueue()
	ctx := context.Background()

	fake.LPush(ctx, q.readyKey(), "not json")
	require.NoError(t, q.Send(ctx, TaskCapture, "ch_6"))

	msgs, err := q.Receive(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ch_6", msgs[0].Target)

	// The garbage is gone for good, not parked in processing.
	assert.Len(t, fake.lists[q.processingKey()], 1)
	assert.Len(t, fake.zsets[q.leaseKey()], 1)
}
