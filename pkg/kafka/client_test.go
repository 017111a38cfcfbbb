package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGiveUpRedelivery(t *testing.T) {
	const maxRetries = 3

	// 第 n 次投递失败后 attempts=n。允许 maxRetries 次重投，
	// 即第 maxRetries+1 次投递仍然发生，由 Processor 终结任务。
	assert.False(t, giveUpRedelivery(1, maxRetries))
	assert.False(t, giveUpRedelivery(2, maxRetries))
	assert.False(t, giveUpRedelivery(3, maxRetries))
	// 只有 Processor 未能正常收尾时才会走到这里
	assert.True(t, giveUpRedelivery(4, maxRetries))
}
