package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

// SADD and HINCRBY run as one script so a duplicate never touches the counts.
var appendVoteScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HINCRBY", KEYS[2], ARGV[2], 1)
return 1
`)

func votersKey(pollID string) string  { return fmt.Sprintf("poll:%s:voters", pollID) }
func resultsKey(pollID string) string { return fmt.Sprintf("poll:%s:results", pollID) }

// RedisLedger records applied votes in Redis: a set of voters and a hash of
// counts per poll.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(ctx context.Context, addr string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	c := redis.NewClient(opts)

	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return &RedisLedger{client: c}, nil
}

func (rl *RedisLedger) AppendVote(ctx context.Context, vote model.Vote) (bool, error) {
	keys := []string{votersKey(vote.PollID), resultsKey(vote.PollID)}
	added, err := appendVoteScript.Run(ctx, rl.client, keys, vote.UserID, vote.OptionID).Int()
	if err != nil {
		return false, fmt.Errorf("error running append vote script: %w", err)
	}
	return added == 1, nil
}

func (rl *RedisLedger) LoadTally(ctx context.Context, pollID string) (tally.LedgerState, error) {
	pipe := rl.client.Pipeline()
	results := pipe.HGetAll(ctx, resultsKey(pollID))
	voters := pipe.SMembers(ctx, votersKey(pollID))
	if _, err := pipe.Exec(ctx); err != nil {
		return tally.LedgerState{}, fmt.Errorf("error executing redis pipeline: %w", err)
	}

	state := tally.LedgerState{
		Counts: make(map[string]int, len(results.Val())),
		Voters: voters.Val(),
	}
	for optionID, countStr := range results.Val() {
		count, err := strconv.Atoi(countStr)
		if err != nil {
			return tally.LedgerState{}, fmt.Errorf("error converting count to int: %w", err)
		}
		state.Counts[optionID] = count
	}

	return state, nil
}

func (rl *RedisLedger) Close() error {
	if err := rl.client.Close(); err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
