// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package redis stores passcode challenges in Redis.
//
// Each email has one key holding "<expiresAtUnixMilli>:<codeHash>". Issuing is
// a single SET, and consuming is a Lua script that compares and deletes in one
// server-side step.
package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
)

// DefaultKeyPrefix namespaces challenge keys.
const DefaultKeyPrefix = "storefront:otp:"

// consumeScript deletes KEYS[1] only when its hash equals ARGV[1] and its
// expiry is after ARGV[2] (unix millis). Returns 1 when deleted.
var consumeScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local sep = string.find(v, ':', 1, true)
if not sep then return 0 end
local exp = tonumber(string.sub(v, 1, sep - 1))
if string.sub(v, sep + 1) ~= ARGV[1] then return 0 end
if exp == nil or exp <= tonumber(ARGV[2]) then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

// sweepScript deletes KEYS[1] when its expiry is at or before ARGV[1].
var sweepScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local sep = string.find(v, ':', 1, true)
local exp = sep and tonumber(string.sub(v, 1, sep - 1))
if exp == nil or exp <= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// OTPStore implements auth.OTPRepository on Redis.
type OTPStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewOTPStore creates an OTPStore. An empty prefix selects DefaultKeyPrefix.
func NewOTPStore(client goredis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &OTPStore{client: client, prefix: prefix}
}

// NewClient builds a client from a redis:// URL.
func NewClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	return goredis.NewClient(opts), nil
}

func (s *OTPStore) key(email string) string {
	return s.prefix + email
}

// Upsert replaces the email's challenge. The key also carries a Redis TTL so
// abandoned challenges disappear without a sweep.
func (s *OTPStore) Upsert(ctx context.Context, challenge *auth.OTPChallenge) error {
	value := strconv.FormatInt(challenge.ExpiresAt.UnixMilli(), 10) + ":" + challenge.CodeHash
	ttl := challenge.ExpiresAt.Sub(challenge.CreatedAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := s.client.Set(ctx, s.key(challenge.Email), value, ttl).Err(); err != nil {
		return oops.Code("OTP_UPSERT_FAILED").
			With("operation", "set otp key").
			Wrap(err)
	}
	return nil
}

// Consume deletes the challenge when it matches and is live.
func (s *OTPStore) Consume(ctx context.Context, email, codeHash string, now time.Time) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(email)}, codeHash, now.UnixMilli()).Int()
	if err != nil {
		return false, oops.Code("OTP_CONSUME_QUERY_FAILED").
			With("operation", "run consume script").
			Wrap(err)
	}
	return n == 1, nil
}

// DeleteExpired removes challenges whose expiry is at or before now.
func (s *OTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, s.prefix) {
			continue
		}
		n, err := sweepScript.Run(ctx, s.client, []string{key}, now.UnixMilli()).Int()
		if err != nil {
			return deleted, oops.Code("OTP_DELETE_EXPIRED_FAILED").
				With("operation", "run sweep script").
				With("key", key).
				Wrap(err)
		}
		deleted += int64(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, oops.Code("OTP_DELETE_EXPIRED_FAILED").
			With("operation", "scan otp keys").
			Wrap(err)
	}
	return deleted, nil
}

// Compile-time interface check.
var _ auth.OTPRepository = (*OTPStore)(nil)
