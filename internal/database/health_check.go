package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Probe 单个依赖的探活函数
type Probe func(ctx context.Context) error

// ProbeResult 单个依赖的最近一次检查结果
type ProbeResult struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	LastCheck time.Time     `json:"last_check"`
	LastError string        `json:"last_error,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// HealthChecker 周期性检查 postgres / redis / 向量库等依赖
type HealthChecker struct {
	logger        *logrus.Logger
	checkInterval time.Duration
	probeTimeout  time.Duration

	mu      sync.RWMutex
	probes  map[string]Probe
	results map[string]ProbeResult
	running bool
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *logrus.Logger) *HealthChecker {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthChecker{
		logger:        logger,
		checkInterval: 30 * time.Second,
		probeTimeout:  5 * time.Second,
		probes:        make(map[string]Probe),
		results:       make(map[string]ProbeResult),
	}
}

// SetCheckInterval 设置检查间隔，需在 Start 之前调用
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if interval > 0 {
		hc.checkInterval = interval
	}
}

// Register 注册依赖探活，同名覆盖
func (hc *HealthChecker) Register(name string, probe Probe) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.probes[name] = probe
}

// Start 立即检查一次，之后按间隔检查直到 ctx 结束或 Stop
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	runCtx, cancel := context.WithCancel(ctx)
	hc.stop = cancel
	interval := hc.checkInterval
	hc.mu.Unlock()

	hc.logger.WithField("interval", interval).Info("Starting dependency health checker")

	hc.wg.Add(1)
	go func() {
		defer hc.wg.Done()
		hc.CheckAll(runCtx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				hc.CheckAll(runCtx)
			}
		}
	}()
}

// Stop 停止后台检查
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	stop := hc.stop
	hc.mu.Unlock()

	stop()
	hc.wg.Wait()
	hc.logger.Info("Dependency health checker stopped")
}

// Check 检查单个依赖并记录结果
func (hc *HealthChecker) Check(ctx context.Context, name string) error {
	hc.mu.RLock()
	probe, ok := hc.probes[name]
	timeout := hc.probeTimeout
	hc.mu.RUnlock()
	if !ok {
		return fmt.Errorf("health probe %q not registered", name)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	result := ProbeResult{
		Name:      name,
		Healthy:   err == nil,
		LastCheck: time.Now(),
		Latency:   time.Since(start),
	}
	if err != nil {
		result.LastError = err.Error()
	}

	hc.mu.Lock()
	previous, seen := hc.results[name]
	hc.results[name] = result
	hc.mu.Unlock()

	entry := hc.logger.WithFields(logrus.Fields{"dependency": name, "latency": result.Latency})
	switch {
	case err != nil && (!seen || previous.Healthy):
		entry.WithError(err).Warn("Dependency became unhealthy")
	case err == nil && seen && !previous.Healthy:
		entry.Info("Dependency recovered")
	}
	return err
}

// CheckAll 检查全部依赖，返回第一个失败
func (hc *HealthChecker) CheckAll(ctx context.Context) error {
	var firstErr error
	for _, name := range hc.names() {
		if err := hc.Check(ctx, name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
	}
	return firstErr
}

// IsHealthy 全部已注册依赖最近一次检查均通过
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for name := range hc.probes {
		result, ok := hc.results[name]
		if !ok || !result.Healthy {
			return false
		}
	}
	return true
}

// Results 按名称排序的检查结果，未检查过的依赖不出现
func (hc *HealthChecker) Results() []ProbeResult {
	names := hc.names()
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	results := make([]ProbeResult, 0, len(names))
	for _, name := range names {
		if result, ok := hc.results[name]; ok {
			results = append(results, result)
		}
	}
	return results
}

// WaitForHealthy 等待全部依赖健康或超时
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout, interval time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := hc.CheckAll(timeoutCtx); err == nil {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		case <-ticker.C:
		}
	}
}

func (hc *HealthChecker) names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.probes))
	for name := range hc.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
