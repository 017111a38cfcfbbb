package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("空查询")))
	assert.Equal(t, KindConfiguration, KindOf(Configuration("维度不匹配: %d", 768)))
	assert.Equal(t, KindTransient, KindOf(Transient(errors.New("x"), "网络抖动")))
	assert.Equal(t, KindInfrastructure, KindOf(Infrastructure(errors.New("x"), "写入失败")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("随便什么错误")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOf_WrappedError(t *testing.T) {
	inner := Transient(errors.New("connection reset"), "es 请求失败")
	wrapped := fmt.Errorf("处理文档 doc-1: %w", inner)
	assert.Equal(t, KindTransient, KindOf(wrapped))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Infrastructure(errors.New("dial tcp: refused"), "bulk 写入失败")
	assert.Contains(t, err.Error(), "bulk 写入失败")
	assert.Contains(t, err.Error(), "dial tcp: refused")
	assert.Equal(t, "空查询", Validation("空查询").Error())
}

func TestIsTransient_ByKind(t *testing.T) {
	assert.True(t, IsTransient(Transient(nil, "超时")))
	assert.False(t, IsTransient(Validation("非法参数")))
	assert.False(t, IsTransient(Configuration("配置缺失")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_ByMessagePattern(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 127.0.0.1:9200: connection refused",
		"read: connection reset by peer",
		"context deadline exceeded",
		"429 Too Many Requests",
		"503 Service Unavailable",
		"unexpected EOF",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
	assert.False(t, IsTransient(errors.New("record not found")))
	assert.False(t, IsTransient(errors.New("json: cannot unmarshal")))
}
