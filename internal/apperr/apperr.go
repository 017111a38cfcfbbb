// Package apperr 定义了系统内部统一的错误分类。
// 错误分类决定了调用方的处理方式：校验错误不重试，配置错误立即失败，
// 瞬时基础设施错误在有限次数内退避重试。
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 表示错误的分类。
type Kind string

const (
	// KindValidation 输入校验错误，例如空查询向量、非法分块策略。不重试。
	KindValidation Kind = "validation"
	// KindConfiguration 配置错误，例如向量维度不匹配。立即失败，不重试。
	KindConfiguration Kind = "configuration"
	// KindTransient 瞬时基础设施错误，例如网络抖动、超时。可退避重试。
	KindTransient Kind = "transient_infrastructure"
	// KindInfrastructure 持久性后端故障（重试耗尽后）。上抛给调用方。
	KindInfrastructure Kind = "infrastructure"
	// KindUnknown 无法归类的错误。
	KindUnknown Kind = "unknown"
)

// Error 携带分类信息的错误类型。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 构造一个校验错误。
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Configuration 构造一个配置错误。
func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Transient 构造一个瞬时基础设施错误，包装底层原因。
func Transient(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Infrastructure 构造一个基础设施错误，包装底层原因。
func Infrastructure(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInfrastructure, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误的分类；非 *Error 的错误归为 unknown。
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// transientPatterns 是被视为瞬时网络故障的错误信息特征。
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"deadline exceeded",
	"no such host",
	"temporarily unavailable",
	"eof",
	"i/o timeout",
	"too many requests",
	"service unavailable",
	"502",
	"503",
	"504",
}

// IsTransient 根据错误分类或错误信息特征判断是否为可重试的瞬时故障。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient:
		return true
	case KindValidation, KindConfiguration:
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
