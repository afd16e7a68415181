// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package redisqueue

import "github.com/redis/go-redis/v9"

// enqueueScript stores the job unless its id is already known and puts it
// into the ready list or the delayed set.
//
// KEYS: job, delayed, ready
// ARGV: id, encoded job, ready at (ms), now (ms)
var enqueueScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[2], 'NX') then
	return 0
end
if tonumber(ARGV[3]) <= tonumber(ARGV[4]) then
	redis.call('RPUSH', KEYS[3], ARGV[1])
else
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
end
return 1
`)

// dequeueScript promotes due delayed jobs, reclaims expired leases and leases
// the head of the ready list.
//
// KEYS: delayed, ready, processing, attempts
// ARGV: now (ms), lease deadline (ms), batch
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('RPUSH', KEYS[2], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('RPUSH', KEYS[2], id)
end
local id = redis.call('LPOP', KEYS[2])
if not id then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[2], id)
local attempt = redis.call('HINCRBY', KEYS[4], id, 1)
return {id, attempt}
`)

// The scripts below only act for the current lease holder: the attempt
// handed out by dequeueScript must still be the one stored in the attempts
// hash. They return 0 otherwise.

// ackScript marks a leased job as completed.
//
// KEYS: processing, attempts, job
// ARGV: id, attempt, done marker, retention (ms)
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if tonumber(ARGV[4]) > 0 then
	redis.call('SET', KEYS[3], ARGV[3], 'PX', ARGV[4])
else
	redis.call('SET', KEYS[3], ARGV[3])
end
return 1
`)

// retryScript moves a leased job back into the delayed set.
//
// KEYS: processing, delayed, attempts
// ARGV: id, ready at (ms), attempt
var retryScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[3] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// buryScript moves a leased job to the dead list and keeps the reason.
//
// KEYS: processing, attempts, dead, errors
// ARGV: id, attempt, reason
var buryScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('RPUSH', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
return 1
`)
