package worker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/practice-timer/swgate/internal/cache"
	"github.com/practice-timer/swgate/internal/logging"
)

// Activator 在新版本接管时清扫陈旧缓存：所有名字不严格等于当前
// CacheName 的缓存整体删除。删除并发执行；单个删除失败只记录日志，
// 不影响其余删除，也不阻塞激活完成。
type Activator struct {
	storage cache.Storage
	current string
	logger  *logrus.Logger
}

// NewActivator 构造清扫器。current 必须是已打开的当前缓存名。
func NewActivator(storage cache.Storage, current string, logger *logrus.Logger) *Activator {
	return &Activator{storage: storage, current: current, logger: logger}
}

// Activate 执行清扫并等待全部删除落定。返回实际删除的缓存数。
// 完成后至多只剩当前缓存；枚举失败视为无事可做。
func (a *Activator) Activate(ctx context.Context) int {
	names, err := a.storage.Keys()
	if err != nil {
		fields := logging.LifecycleFields("activate", a.current)
		fields["error"] = err.Error()
		a.logger.WithFields(fields).Warn("cache_enumerate_failed")
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	deleted := 0

	for _, name := range names {
		if name == a.current {
			continue
		}
		wg.Add(1)
		go func(stale string) {
			defer wg.Done()
			if err := a.storage.Delete(ctx, stale); err != nil {
				fields := logging.LifecycleFields("activate", a.current)
				fields["stale"] = stale
				fields["error"] = err.Error()
				a.logger.WithFields(fields).Warn("stale_cache_delete_failed")
				return
			}
			mu.Lock()
			deleted++
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	fields := logging.LifecycleFields("activate", a.current)
	fields["deleted"] = deleted
	a.logger.WithFields(fields).Info("activate_complete")
	return deleted
}
