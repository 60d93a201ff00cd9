// Package credstore は認証SDKが書き込むクレデンシャルを保持する永続ストアを提供する。
// ブラウザのlocalStorageに相当し、キーと文字列値の組を保存する。
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultPrefix はバックエンドSDKのセッショントークンキーの接頭辞。
const DefaultPrefix = "sb"

// authTokenSuffix はセッショントークンキーの接尾辞。
const authTokenSuffix = "-auth-token"

// Store はクレデンシャルストアのインターフェース。
type Store interface {
	// Keys は保存済みの全キーを辞書順で返す。
	Keys() []string
	// Get は指定キーの値を返す。存在しない場合はfalseを返す。
	Get(key string) (string, bool)
	// Set は指定キーに値を保存する。
	Set(key, value string) error
	// Remove は指定キーを削除する。存在しないキーの削除はエラーにしない。
	Remove(key string) error
}

// IsAuthTokenKey はキーが `<prefix>-...-auth-token` の命名規則に一致するかを返す。
func IsAuthTokenKey(key, prefix string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	head := prefix + "-"
	if !strings.HasPrefix(key, head) || !strings.HasSuffix(key, authTokenSuffix) {
		return false
	}
	return len(key) > len(head)+len(authTokenSuffix)
}

// AuthTokenKeys はストア内のセッショントークンキーを辞書順で返す。
func AuthTokenKeys(s Store, prefix string) []string {
	var keys []string
	for _, k := range s.Keys() {
		if IsAuthTokenKey(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// RemoveAuthTokens はセッショントークンキーを全て削除し、削除したキー数を返す。
// 個々の削除エラーはまとめて返すが、残りのキーの削除は継続する。
func RemoveAuthTokens(s Store, prefix string) (int, error) {
	var errs []error
	removed := 0
	for _, k := range AuthTokenKeys(s, prefix) {
		if err := s.Remove(k); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// MemoryStore はプロセス内メモリのみに保存するStore実装。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Keys は保存済みの全キーを辞書順で返す。
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.values)
}

// Get は指定キーの値を返す。
func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set は指定キーに値を保存する。
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove は指定キーを削除する。
func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStore はJSONファイルに保存するStore実装。
// 書き込みは一時ファイルへの書き出しとrenameで置き換える。
type FileStore struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

// OpenFileStore はpathのファイルを読み込んでFileStoreを生成する。
// ファイルが存在しない場合は空のストアとして扱う。
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential store: %w", err)
	}
	if len(data) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(data, &fs.values); err != nil {
		return nil, fmt.Errorf("failed to parse credential store %s: %w", path, err)
	}
	return fs, nil
}

// Path はストアファイルのパスを返す。
func (f *FileStore) Path() string {
	return f.path
}

// Keys は保存済みの全キーを辞書順で返す。
func (f *FileStore) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.values)
}

// Get は指定キーの値を返す。
func (f *FileStore) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

// Set は指定キーに値を保存し、ファイルに書き出す。
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.values[key]
	f.values[key] = value
	if err := f.flushLocked(); err != nil {
		if existed {
			f.values[key] = prev
		} else {
			delete(f.values, key)
		}
		return err
	}
	return nil
}

// Remove は指定キーを削除し、ファイルに書き出す。
func (f *FileStore) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, existed := f.values[key]
	if !existed {
		return nil
	}
	delete(f.values, key)
	if err := f.flushLocked(); err != nil {
		f.values[key] = prev
		return err
	}
	return nil
}

// flushLocked は現在の内容をファイルに書き出す。呼び出し側でロックを保持すること。
func (f *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential store: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credstore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credential store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace credential store: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compile-time interface check
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
