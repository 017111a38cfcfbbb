package batch

import "runtime"

// MemoryGauge 是可注入的内存压力探测器。
// 返回值为 0~1 之间的已用内存比例。
type MemoryGauge interface {
	UsedFraction() float64
}

// runtimeGauge 基于 runtime.MemStats 估算堆内存压力。
type runtimeGauge struct{}

// NewRuntimeGauge 返回默认的内存压力探测器。
func NewRuntimeGauge() MemoryGauge {
	return runtimeGauge{}
}

func (runtimeGauge) UsedFraction() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / float64(ms.Sys)
}
