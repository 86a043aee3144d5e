// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ratelimit implements a sliding-window log limiter over a shared Redis.

Each identity owns one sorted set whose members are attempts scored by their
unix-millisecond timestamp. A single Lua script trims the set to the window,
counts it and, if there is room, records the new attempt, so concurrent
replicas can never admit more than the limit between them.

Usage:

	limiter := ratelimit.NewSlidingWindow(client, ratelimit.Options{Limit: 5, Window: time.Minute})
	decision, err := limiter.Allow(ctx, email)
*/
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Defaults applied by [NewSlidingWindow] for zero-valued [Options].
const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
	DefaultPrefix = "rl:login"
)

// slidingWindowScript returns {allowed, remaining, retry_after_ms}.
//
// Rejected attempts are not recorded: a blocked client regains a slot as soon
// as its oldest admitted attempt leaves the window.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local count = redis.call('ZCARD', key)

	if count >= limit then
		local retry_after_ms = window_ms
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if oldest[2] then
			retry_after_ms = tonumber(oldest[2]) + window_ms - now_ms
		end
		if retry_after_ms < 1 then
			retry_after_ms = 1
		end
		return { 0, 0, retry_after_ms }
	end

	redis.call('ZADD', key, now_ms, member)
	redis.call('PEXPIRE', key, window_ms)

	return { 1, limit - count - 1, 0 }
`)

// Decision is the outcome of one [SlidingWindow.Allow] call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Options configures a [SlidingWindow].
type Options struct {
	Limit  int
	Window time.Duration
	Prefix string

	// Now overrides the clock. Tests use it to slide the window.
	Now func() time.Time
}

// SlidingWindow admits at most Limit attempts per identity in any Window.
type SlidingWindow struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewSlidingWindow builds a limiter on client.
func NewSlidingWindow(client redis.Scripter, options Options) *SlidingWindow {
	limiter := &SlidingWindow{
		client: client,
		limit:  options.Limit,
		window: options.Window,
		prefix: options.Prefix,
		now:    options.Now,
	}
	if limiter.limit <= 0 {
		limiter.limit = DefaultLimit
	}
	if limiter.window <= 0 {
		limiter.window = DefaultWindow
	}
	if limiter.prefix == "" {
		limiter.prefix = DefaultPrefix
	}
	if limiter.now == nil {
		limiter.now = time.Now
	}
	return limiter
}

// Allow records an attempt for identity if the window has room.
//
// A backend failure is returned as an error; callers must treat it as a
// refusal rather than let the attempt through.
func (limiter *SlidingWindow) Allow(ctx context.Context, identity string) (Decision, error) {
	member, err := uuid.NewV7()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: failed to generate member: %w", err)
	}

	result, err := slidingWindowScript.Run(ctx, limiter.client,
		[]string{limiter.Key(identity)},
		limiter.now().UnixMilli(),
		limiter.window.Milliseconds(),
		limiter.limit,
		member.String(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: script failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, errors.New("ratelimit: unexpected script result")
	}

	return Decision{
		Allowed:    result[0] == 1,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}

// Key is the Redis key for identity. Identities are trimmed and lower-cased so
// "Bob@Example.com " and "bob@example.com" share one window.
func (limiter *SlidingWindow) Key(identity string) string {
	return limiter.prefix + ":" + strings.ToLower(strings.TrimSpace(identity))
}

// String is used in startup logs.
func (limiter *SlidingWindow) String() string {
	return strconv.Itoa(limiter.limit) + "/" + limiter.window.String()
}
