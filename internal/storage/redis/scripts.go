package redis

const (
	// addDailyUsageScript atomically creates or increments a daily usage
	// record and refreshes the retention TTL (90 days).
	addDailyUsageScript = `
local usage_key = KEYS[1]     -- earnlock:usage:daily:{date}

local date = ARGV[1]
local earned = tonumber(ARGV[2])
local consumed = tonumber(ARGV[3])
local tier = ARGV[4]
local updated = ARGV[5]

local exists = redis.call('EXISTS', usage_key)

if exists == 0 then
  redis.call('HSET', usage_key,
    'date', date,
    'earned_seconds', earned,
    'consumed_seconds', consumed,
    'plan_tier', tier,
    'last_updated', updated
  )
else
  redis.call('HINCRBY', usage_key, 'earned_seconds', earned)
  redis.call('HINCRBY', usage_key, 'consumed_seconds', consumed)
  redis.call('HSET', usage_key, 'plan_tier', tier, 'last_updated', updated)
end

-- Retention window: 90 days
redis.call('EXPIRE', usage_key, 7776000)

return 'OK'
`
)
