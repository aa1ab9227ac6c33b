package di

import (
	"sync"

	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// GetContainer 获取依赖注入容器实例
func GetContainer() *dig.Container {
	return Container
}

// Invoke 封装dig.Invoke
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}

// Provide 封装dig.Provide
func Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	return Container.Provide(constructor, opts...)
}

// Cleanup 收集需要在退出时释放的资源，按注册的逆序执行
type Cleanup struct {
	mu    sync.Mutex
	tasks []cleanupTask
}

type cleanupTask struct {
	name string
	fn   func() error
}

// Add 注册清理函数
func (c *Cleanup) Add(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, cleanupTask{name: name, fn: fn})
}

// Run 执行全部清理函数，单个失败不影响其他
func (c *Cleanup) Run(logger *zap.Logger) {
	c.mu.Lock()
	tasks := c.tasks
	c.tasks = nil
	c.mu.Unlock()

	for i := len(tasks) - 1; i >= 0; i-- {
		if err := tasks[i].fn(); err != nil && logger != nil {
			logger.Warn("cleanup failed", zap.String("resource", tasks[i].name), zap.Error(err))
		}
	}
}
