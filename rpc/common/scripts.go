package common

import (
	"crypto/sha1"
	"encoding/hex"
)

// Scripts used by the atomic lock strategy. Both are evaluated by the node as
// a single uninterruptible step.
const (
	// ScriptCompareAndDelete deletes KEYS[1] if its value equals ARGV[1]
	ScriptCompareAndDelete = `local token = redis.call('get', KEYS[1])
if not token or token ~= ARGV[1] then
    return 0
end
redis.call('del', KEYS[1])
return 1`

	// ScriptCompareAndExtend adds ARGV[2] milliseconds to the expiry of
	// KEYS[1] if its value equals ARGV[1]
	ScriptCompareAndExtend = `local token = redis.call('get', KEYS[1])
if not token or token ~= ARGV[1] then
    return 0
end
local expiration = redis.call('pttl', KEYS[1])
if not expiration then
    expiration = 0
end
if expiration < 0 then
    return 0
end
redis.call('pexpire', KEYS[1], expiration + ARGV[2])
return 1`
)

// ScriptSHA returns the digest a script is registered under
func ScriptSHA(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}
