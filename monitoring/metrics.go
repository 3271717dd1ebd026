package monitoring

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Outcome 单次预测结果分类
type Outcome string

const (
	OutcomeServed      Outcome = "served"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeInvalid     Outcome = "invalid"
)

// TaskStat 单个任务的统计
type TaskStat struct {
	Task             string  `json:"task"`
	Requests         int64   `json:"requests"`
	Served           int64   `json:"served"`
	Unavailable      int64   `json:"unavailable"`
	ValidationFailed int64   `json:"validation_failed"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	MaxLatencyMs     float64 `json:"max_latency_ms"`

	totalLatency time.Duration
	maxLatency   time.Duration
}

// MetricsCollector 预测指标收集器
type MetricsCollector struct {
	metricsLock sync.RWMutex

	tasks     map[string]*TaskStat
	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		tasks:     make(map[string]*TaskStat),
		startTime: time.Now(),
	}
}

// RecordPrediction 记录一次预测
func (mc *MetricsCollector) RecordPrediction(task string, outcome Outcome, latency time.Duration) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	stat, ok := mc.tasks[task]
	if !ok {
		stat = &TaskStat{Task: task}
		mc.tasks[task] = stat
	}
	stat.Requests++
	switch outcome {
	case OutcomeServed:
		stat.Served++
	case OutcomeUnavailable:
		stat.Unavailable++
	case OutcomeInvalid:
		stat.ValidationFailed++
	}
	stat.totalLatency += latency
	if latency > stat.maxLatency {
		stat.maxLatency = latency
	}
}

// TaskStats 获取各任务统计（按任务名排序）
func (mc *MetricsCollector) TaskStats() []TaskStat {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	stats := make([]TaskStat, 0, len(mc.tasks))
	for _, stat := range mc.tasks {
		statCopy := *stat
		if stat.Requests > 0 {
			statCopy.AvgLatencyMs = durationMs(stat.totalLatency) / float64(stat.Requests)
		}
		statCopy.MaxLatencyMs = durationMs(stat.maxLatency)
		stats = append(stats, statCopy)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Task < stats[j].Task })
	return stats
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// Snapshot 指标快照
type Snapshot struct {
	Uptime     string     `json:"uptime"`
	Goroutines int        `json:"goroutines"`
	HeapAlloc  uint64     `json:"heap_alloc_bytes"`
	GCCount    uint32     `json:"gc_count"`
	Tasks      []TaskStat `json:"tasks"`
	Feed       *FeedStats `json:"feed,omitempty"`
}

// Snapshot 获取系统与任务统计
func (mc *MetricsCollector) Snapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Snapshot{
		Uptime:     mc.GetUptime().Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		GCCount:    m.NumGC,
		Tasks:      mc.TaskStats(),
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
