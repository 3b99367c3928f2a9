package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pharmyrus/internal/entity"
	"pharmyrus/internal/repository"
)

// Store keeps one hash per job under <prefix><id>. All guarded transitions
// run as Lua scripts so the status check and the write are a single atomic
// step on the server. Terminal transitions set a TTL equal to the retention
// window; Redis key expiry is the eviction mechanism, no sweeper needed.
type Store struct {
	rdb       *redis.Client
	keyPrefix string
	retention time.Duration
}

func New(rdb *redis.Client, keyPrefix string, retention time.Duration) *Store {
	if keyPrefix == "" {
		keyPrefix = "jobs:record:"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{rdb: rdb, keyPrefix: keyPrefix, retention: retention}
}

func (s *Store) key(id uuid.UUID) string {
	return s.keyPrefix + id.String()
}

// Scripts return "ok", "not_found", or the current status when the move is
// not permitted.
var (
	markRunningScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if not s then return 'not_found' end
if s ~= 'queued' then return s end
redis.call('HSET', KEYS[1], 'status', 'running', 'started_at', ARGV[1], 'progress', '0')
return 'ok'`)

	setProgressScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if not s then return 'not_found' end
if s ~= 'running' then return s end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local p = tonumber(ARGV[1])
if p < cur then p = cur end
if p > 100 then p = 100 end
redis.call('HSET', KEYS[1], 'progress', tostring(p), 'step', ARGV[2])
return 'ok'`)

	markTerminalScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if not s then return 'not_found' end
local new = ARGV[1]
local allowed
if new == 'cancelled' then
  allowed = (s == 'queued' or s == 'running')
else
  allowed = (s == 'running')
end
if not allowed then return s end
redis.call('HSET', KEYS[1], 'status', new, 'finished_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'step')
if new == 'succeeded' then
  redis.call('HSET', KEYS[1], 'result', ARGV[4], 'progress', '100')
elseif new == 'failed' then
  redis.call('HSET', KEYS[1], 'error_message', ARGV[4], 'error_detail', ARGV[5])
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return 'ok'`)

	requestCancelScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if not s then return 'not_found' end
if s == 'cancelled' then return 'cancelled' end
if s == 'succeeded' or s == 'failed' then return 'terminal:' .. s end
if s == 'queued' then
  redis.call('HSET', KEYS[1], 'status', 'cancelled', 'finished_at', ARGV[1])
  redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
  return 'cancelled'
end
redis.call('HSET', KEYS[1], 'cancel_requested', '1')
return 'running'`)
)

func (s *Store) Create(ctx context.Context, input json.RawMessage) (uuid.UUID, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	id := uuid.New()
	err := s.rdb.HSet(ctx, s.key(id),
		"status", string(entity.StatusQueued),
		"progress", "0",
		"input", string(input),
		"cancel_requested", "0",
		"submitted_at", strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
	).Err()
	if err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return decodeJob(id, fields)
}

func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	res, err := markRunningScript.Run(ctx, s.rdb, []string{s.key(id)},
		nowMilli()).Text()
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return transitionResult(res, entity.StatusRunning)
}

func (s *Store) SetProgress(ctx context.Context, id uuid.UUID, progress int, step string) error {
	res, err := setProgressScript.Run(ctx, s.rdb, []string{s.key(id)},
		strconv.Itoa(progress), step).Text()
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return transitionResult(res, entity.StatusRunning)
}

func (s *Store) MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	res, err := markTerminalScript.Run(ctx, s.rdb, []string{s.key(id)},
		string(entity.StatusSucceeded), nowMilli(), s.retentionSeconds(), string(result)).Text()
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	return transitionResult(res, entity.StatusSucceeded)
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, message, detail string) error {
	res, err := markTerminalScript.Run(ctx, s.rdb, []string{s.key(id)},
		string(entity.StatusFailed), nowMilli(), s.retentionSeconds(), message, detail).Text()
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return transitionResult(res, entity.StatusFailed)
}

func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	res, err := markTerminalScript.Run(ctx, s.rdb, []string{s.key(id)},
		string(entity.StatusCancelled), nowMilli(), s.retentionSeconds()).Text()
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return transitionResult(res, entity.StatusCancelled)
}

func (s *Store) RequestCancel(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	res, err := requestCancelScript.Run(ctx, s.rdb, []string{s.key(id)},
		nowMilli(), s.retentionSeconds()).Text()
	if err != nil {
		return "", fmt.Errorf("request cancel: %w", err)
	}
	switch {
	case res == "not_found":
		return "", repository.ErrNotFound
	case res == "cancelled", res == "running":
		return entity.JobStatus(res), nil
	case strings.HasPrefix(res, "terminal:"):
		return entity.JobStatus(strings.TrimPrefix(res, "terminal:")), repository.ErrNotCancellable
	}
	return "", fmt.Errorf("request cancel: unexpected script result %q", res)
}

func (s *Store) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	v, err := s.rdb.HGet(ctx, s.key(id), "cancel_requested").Result()
	if err == redis.Nil {
		return false, repository.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("cancel requested: %w", err)
	}
	return v == "1", nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) retentionSeconds() string {
	return strconv.FormatInt(int64(s.retention/time.Second), 10)
}

func nowMilli() string {
	return strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
}

func transitionResult(res string, want entity.JobStatus) error {
	switch res {
	case "ok":
		return nil
	case "not_found":
		return repository.ErrNotFound
	default:
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, res, want)
	}
}

func decodeJob(id uuid.UUID, fields map[string]string) (*entity.Job, error) {
	j := &entity.Job{
		ID:     id,
		Status: entity.JobStatus(fields["status"]),
	}

	if v := fields["progress"]; v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: bad progress %q", id, v)
		}
		j.Progress = p
	}
	j.Step = fields["step"]
	j.CancelRequested = fields["cancel_requested"] == "1"

	if v := fields["input"]; v != "" {
		j.Input = json.RawMessage(v)
	}
	if v := fields["result"]; v != "" {
		j.Result = json.RawMessage(v)
	}
	if msg := fields["error_message"]; msg != "" {
		j.Error = &entity.JobError{Message: msg, Detail: fields["error_detail"]}
	}

	var err error
	if j.SubmittedAt, err = parseMilli(fields["submitted_at"]); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if v := fields["started_at"]; v != "" {
		t, err := parseMilli(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		j.StartedAt = &t
	}
	if v := fields["finished_at"]; v != "" {
		t, err := parseMilli(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		j.FinishedAt = &t
	}

	return j, nil
}

func parseMilli(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", v)
	}
	return time.UnixMilli(ms).UTC(), nil
}
