// Package queue implements the delayed job queue the dispatch pipeline
// runs on. Jobs are JSON blobs scheduled in a per-topic Redis sorted
// set scored by run-at time; claiming is an atomic Lua pop into a
// processing set, which gives at-least-once execution with bounded
// retries and exponential backoff. Submission never blocks on the
// submitted work.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Topics for the dispatch pipeline's job categories. Each topic gets
// its own worker pool with a fixed concurrency limit.
const (
	TopicProcessCampaign = "campaign.process"
	TopicContactBatch    = "campaign.batch"
	TopicSendMessage     = "message.send"
)

const (
	defaultBackoffBase = 5 * time.Second
	// failedRetention is how long exhausted jobs stay inspectable
	// before aging out.
	failedRetention = 24 * time.Hour
	// claimTimeout is the processing deadline; jobs not acked by then
	// are considered lost and re-scheduled by the reclaim loop.
	claimTimeout = 5 * time.Minute
)

// Options control scheduling and retry behavior for one job.
type Options struct {
	// Delay postpones execution; zero means run as soon as a worker is
	// free.
	Delay time.Duration
	// Attempts is the total number of tries (default 1).
	Attempts int
	// BackoffBase seeds the exponential retry backoff (default 5s).
	BackoffBase time.Duration
}

// Job is one unit of work as stored in Redis.
type Job struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMs   int64           `json:"backoff_ms"`
}

// Queue schedules and claims delayed jobs. Safe for concurrent use.
type Queue struct {
	rdb *redis.Client

	claimScript  *redis.Script
	removeScript *redis.Script
}

// claimLua atomically moves up to ARGV[2] due job IDs from the
// scheduled set into the processing set with a new deadline score.
const claimLua = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("ZADD", KEYS[2], ARGV[3], id)
end
return due
`

// removeLua deletes a job only while it is still waiting in the
// scheduled set. Claimed or finished jobs are left alone.
const removeLua = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("DEL", KEYS[2])
	return 1
end
return 0
`

// New creates a queue on the given Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{
		rdb:          rdb,
		claimScript:  redis.NewScript(claimLua),
		removeScript: redis.NewScript(removeLua),
	}
}

func scheduledKey(topic string) string { return "queue:" + topic + ":scheduled" }
func processingKey(topic string) string { return "queue:" + topic + ":processing" }
func failedKey(topic string) string    { return "queue:" + topic + ":failed" }
func jobKey(topic, id string) string   { return "queue:" + topic + ":job:" + id }

// Enqueue schedules payload on the topic and returns the job ID. The
// caller does not wait for execution.
func (q *Queue) Enqueue(ctx context.Context, topic string, payload any, opts Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	job := Job{
		ID:          uuid.New().String(),
		Topic:       topic,
		Payload:     data,
		Attempt:     0,
		MaxAttempts: opts.Attempts,
		BackoffMs:   opts.BackoffBase.Milliseconds(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal %s job: %w", topic, err)
	}

	runAt := time.Now().Add(opts.Delay).UnixMilli()
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(topic, job.ID), encoded, 0)
	pipe.ZAdd(ctx, scheduledKey(topic), redis.Z{Score: float64(runAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", topic, err)
	}
	return job.ID, nil
}

// Remove deletes a job that has not started executing. Returns true if
// the job was still pending and is now gone; false when it already ran,
// is running, or never existed. Used by campaign cancellation.
func (q *Queue) Remove(ctx context.Context, topic, jobID string) (bool, error) {
	n, err := q.removeScript.Run(ctx, q.rdb,
		[]string{scheduledKey(topic), jobKey(topic, jobID)}, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("remove %s job %s: %w", topic, jobID, err)
	}
	return n == 1, nil
}

// ClaimDue pops up to limit due jobs for the topic into the processing
// set. Claimed jobs must be finished with Ack or RetryOrFail.
func (q *Queue) ClaimDue(ctx context.Context, topic string, limit int) ([]*Job, error) {
	now := time.Now().UnixMilli()
	deadline := time.Now().Add(claimTimeout).UnixMilli()

	ids, err := q.claimScript.Run(ctx, q.rdb,
		[]string{scheduledKey(topic), processingKey(topic)},
		now, limit, deadline).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", topic, err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		data, err := q.rdb.Get(ctx, jobKey(topic, id)).Bytes()
		if err != nil {
			// Payload vanished (flushed or expired); drop the claim.
			q.rdb.ZRem(ctx, processingKey(topic), id)
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			q.rdb.ZRem(ctx, processingKey(topic), id)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Ack marks a job done and forgets it.
func (q *Queue) Ack(ctx context.Context, job *Job) {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, processingKey(job.Topic), job.ID)
	pipe.Del(ctx, jobKey(job.Topic, job.ID))
	pipe.Exec(ctx)
}

// RetryOrFail re-schedules a failed job with exponential backoff, or
// parks it in the failed set once its attempts are exhausted.
func (q *Queue) RetryOrFail(ctx context.Context, job *Job) (retried bool, err error) {
	job.Attempt++

	if job.Attempt >= job.MaxAttempts {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, processingKey(job.Topic), job.ID)
		pipe.ZAdd(ctx, failedKey(job.Topic), redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: job.ID,
		})
		pipe.Expire(ctx, jobKey(job.Topic, job.ID), failedRetention)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("park %s job %s: %w", job.Topic, job.ID, err)
		}
		return false, nil
	}

	backoff := time.Duration(job.BackoffMs) * time.Millisecond
	for i := 1; i < job.Attempt; i++ {
		backoff *= 2
	}
	runAt := time.Now().Add(backoff).UnixMilli()

	encoded, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal retry %s: %w", job.ID, err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.Topic, job.ID), encoded, 0)
	pipe.ZRem(ctx, processingKey(job.Topic), job.ID)
	pipe.ZAdd(ctx, scheduledKey(job.Topic), redis.Z{Score: float64(runAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("retry %s job %s: %w", job.Topic, job.ID, err)
	}
	return true, nil
}

// reclaim moves jobs whose processing deadline passed (worker crash,
// network partition) back into the scheduled set.
func (q *Queue) reclaim(ctx context.Context, topic string) (int, error) {
	now := time.Now().UnixMilli()
	ids, err := q.rdb.ZRangeByScore(ctx, processingKey(topic), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, processingKey(topic), id)
		pipe.ZAdd(ctx, scheduledKey(topic), redis.Z{Score: float64(now), Member: id})
		pipe.Exec(ctx)
	}
	return len(ids), nil
}

// Depth returns the number of jobs waiting or executing on a topic.
func (q *Queue) Depth(ctx context.Context, topic string) (int64, error) {
	pipe := q.rdb.Pipeline()
	scheduled := pipe.ZCard(ctx, scheduledKey(topic))
	processing := pipe.ZCard(ctx, processingKey(topic))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return scheduled.Val() + processing.Val(), nil
}

// FailedCount returns the number of parked jobs on a topic.
func (q *Queue) FailedCount(ctx context.Context, topic string) (int64, error) {
	return q.rdb.ZCard(ctx, failedKey(topic)).Result()
}
