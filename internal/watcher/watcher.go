package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Action 文件事件对应的动作
type Action int

const (
	ActionNone Action = iota
	ActionIngest
	ActionDelete
)

// Options 收件箱目录监听配置
type Options struct {
	Dir      string
	Supports func(filename string) bool
	Ingest   func(ctx context.Context, path string) (documentID string, err error)
	Delete   func(ctx context.Context, documentID string) error
	Debounce time.Duration
	Logger   *zap.Logger
}

// InboxWatcher 监听目录，新文件自动入库，删除文件时删除对应文档
type InboxWatcher struct {
	opts    Options
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu        sync.Mutex
	documents map[string]string // path → document id
	pending   map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInboxWatcher 创建目录监听器
func NewInboxWatcher(opts Options) (*InboxWatcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch directory not configured")
	}
	if opts.Ingest == nil || opts.Delete == nil {
		return nil, fmt.Errorf("ingest and delete callbacks are required")
	}
	if opts.Supports == nil {
		opts.Supports = func(string) bool { return true }
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxWatcher{
		opts:      opts,
		logger:    logger,
		documents: make(map[string]string),
		pending:   make(map[string]time.Time),
	}, nil
}

// Start 入库目录中已有的文件并开始监听
func (w *InboxWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create watch directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(w.opts.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	w.watcher = fw

	ctx, w.cancel = context.WithCancel(ctx)

	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.logger.Warn("scan watch directory failed", zap.Error(err))
	}
	now := time.Now()
	w.mu.Lock()
	for _, entry := range entries {
		path := filepath.Join(w.opts.Dir, entry.Name())
		if !entry.IsDir() && w.eligible(path) {
			w.pending[path] = now.Add(-w.opts.Debounce)
		}
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("watching inbox directory", zap.String("dir", w.opts.Dir))
	return nil
}

// Close 停止监听
func (w *InboxWatcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// DocumentFor 文件当前对应的文档ID
func (w *InboxWatcher) DocumentFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.documents[path]
	return id, ok
}

func (w *InboxWatcher) eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return w.opts.Supports(name)
}

// classify 将文件事件映射为动作，目录和隐藏文件忽略
func (w *InboxWatcher) classify(event fsnotify.Event) Action {
	if !w.eligible(event.Name) {
		return ActionNone
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return ActionDelete
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return ActionNone
		}
		return ActionIngest
	default:
		return ActionNone
	}
}

func (w *InboxWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.Debounce / 2)
	defer ticker.Stop()

	// 先处理启动时扫描到的文件
	w.flush(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch w.classify(event) {
			case ActionIngest:
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			case ActionDelete:
				w.remove(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// flush 入库静默超过防抖时间的文件
func (w *InboxWatcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	ready := make([]string, 0, len(w.pending))
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.opts.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingest(ctx, path)
	}
}

func (w *InboxWatcher) ingest(ctx context.Context, path string) {
	// 文件被修改时替换旧文档
	if previous, ok := w.DocumentFor(path); ok {
		if err := w.opts.Delete(ctx, previous); err != nil {
			w.logger.Warn("delete previous document failed", zap.String("path", path), zap.Error(err))
		}
	}

	documentID, err := w.opts.Ingest(ctx, path)
	if err != nil {
		w.logger.Error("auto ingest failed", zap.String("path", path), zap.Error(err))
		w.mu.Lock()
		delete(w.documents, path)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.documents[path] = documentID
	w.mu.Unlock()
	w.logger.Info("auto ingested file", zap.String("path", path), zap.String("document_id", documentID))
}

func (w *InboxWatcher) remove(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	documentID, ok := w.documents[path]
	delete(w.documents, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.opts.Delete(ctx, documentID); err != nil {
		w.logger.Error("auto delete failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("removed document of deleted file", zap.String("path", path), zap.String("document_id", documentID))
}
