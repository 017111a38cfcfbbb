package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 加锁方与释放方分属不同包，key 格式必须在此处收敛。
func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "sync:attempts:doc-1", AttemptsKey("doc-1"))
	assert.Equal(t, "resync:lock:doc-1", ResyncLockKey("doc-1"))
}
