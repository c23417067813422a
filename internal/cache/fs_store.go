package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStorage 以 basePath 为根目录构建磁盘缓存存储，整个进程复用一份实例。
func NewStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，所有命名缓存共享锁表。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStorage) Open(name string) (Cache, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid cache name: %q", name)
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &fileCache{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !validName(name) {
		return fmt.Errorf("invalid cache name: %q", name)
	}
	return os.RemoveAll(filepath.Join(s.basePath, name))
}

// validName 拒绝可能逃逸出 basePath 的名字。
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// fileCache 实现单个命名缓存：正文 .body + 元信息 .meta 双文件布局。
type fileCache struct {
	storage *fileStorage
	name    string
	dir     string
}

// entryMeta 是 .meta 文件的 JSON 结构。
type entryMeta struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, key string) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, metaPath, err := c.entryPaths(key)
	if err != nil {
		return nil, err
	}

	meta, err := readMeta(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Key:       key,
		Status:    meta.Status,
		Header:    meta.Header,
		SizeBytes: info.Size(),
		StoredAt:  meta.StoredAt,
		FilePath:  bodyPath,
	}

	return &ReadResult{Entry: entry, Reader: f}, nil
}

func (c *fileCache) Put(ctx context.Context, key string, resp Response) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	unlock := c.storage.lockEntry(c.name, key)
	defer unlock()

	bodyPath, metaPath, err := c.entryPaths(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return nil, err
	}

	if err := writeAtomic(bodyPath, resp.Body); err != nil {
		return nil, err
	}

	meta := entryMeta{
		Status:   resp.Status,
		Header:   resp.Header,
		StoredAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(metaPath, raw); err != nil {
		// 正文已落盘但元信息失败，移除正文避免出现半条目。
		os.Remove(bodyPath)
		return nil, err
	}

	entry := Entry{
		Key:       key,
		Status:    resp.Status,
		Header:    resp.Header,
		SizeBytes: int64(len(resp.Body)),
		StoredAt:  meta.StoredAt,
		FilePath:  bodyPath,
	}
	return &entry, nil
}

func (c *fileCache) Remove(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	unlock := c.storage.lockEntry(c.name, key)
	defer unlock()

	bodyPath, metaPath, err := c.entryPaths(key)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c *fileCache) Len() (int, error) {
	count := 0
	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".meta") {
			count++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// entryPaths 将条目 key 映射为正文/元信息文件路径，并阻止路径穿越。
func (c *fileCache) entryPaths(key string) (body string, meta string, err error) {
	rel := key
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	base := filepath.Join(c.dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(base, c.dir) {
		return "", "", errors.New("invalid cache key")
	}
	return base + ".body", base + ".meta", nil
}

func (s *fileStorage) lockEntry(name, key string) func() {
	lockKey := name + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// writeAtomic 先写临时文件再 rename，保证读方永远看不到半个文件。
func writeAtomic(target string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func readMeta(metaPath string) (entryMeta, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return entryMeta{}, err
	}
	return meta, nil
}
