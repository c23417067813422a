package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Storage 管理磁盘上的版本化命名缓存。磁盘布局遵循：
//
//	<StoragePath>/<CacheName>/<path>.body    # 响应正文
//	<StoragePath>/<CacheName>/<path>.meta    # 状态码与响应头（JSON）
//
// 同一时刻只有一个名字被视为“当前”；激活阶段依据 Keys/Delete 清扫其它名字。
type Storage interface {
	// Open 打开（不存在则创建）指定名字的缓存。
	Open(name string) (Cache, error)

	// Keys 枚举当前存在的所有缓存名。
	Keys() ([]string, error)

	// Delete 整体删除一个命名缓存及其全部条目。
	Delete(ctx context.Context, name string) error
}

// Cache 是按请求 URL 键控的响应存储。条目只会被整缓存删除，
// 不支持单条过期。
type Cache interface {
	// Name 返回缓存的版本化名字。
	Name() string

	// Match 返回可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Match(ctx context.Context, key string) (*ReadResult, error)

	// Put 写入一个响应。实现需通过临时文件 + rename 保证写入原子性，
	// 并发写同一 key 时后写胜出，读方不会看到写了一半的条目。
	Put(ctx context.Context, key string, resp Response) (*Entry, error)

	// Remove 删除单个条目，主要供测试与诊断使用。
	Remove(ctx context.Context, key string) error

	// Len 返回当前条目数。
	Len() (int, error)
}

// Response 是要持久化的响应快照（状态码 + 头 + 已读完的正文）。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry 描述一次缓存条目，包含正文文件位置与元信息。
type Entry struct {
	Key       string      `json:"key"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	SizeBytes int64       `json:"size_bytes"`
	StoredAt  time.Time   `json:"stored_at"`
	FilePath  string      `json:"-"`
}

// ReadResult 组合 Entry 与正文 Reader，便于拦截器直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
