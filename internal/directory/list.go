package directory

import (
	"context"
	"sync"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/model"
)

// ProjectList は画面に表示中のプロジェクト一覧を保持する。
//
// 取得ごとにバージョンを払い出し、最新のバージョンの取得結果だけを一覧に反映する。
// 削除や追加でもバージョンを進めるため、それ以前に開始した取得が
// 削除済みの項目を復活させることはない。一覧は所有者ごとに保持し、
// 所有者が変わると空に戻す。
type ProjectList struct {
	mu      sync.Mutex
	owner   string
	version uint64
	items   []model.Project
	// removed は削除したIDと削除時のバージョン。
	removed map[string]uint64
}

// Reset は一覧の所有者をownerにする。所有者が変わった場合は一覧を空にし、
// 実行中の取得結果を無効にする。空文字列は未サインインを表す。
func (l *ProjectList) Reset(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner == l.owner {
		return
	}
	l.owner = owner
	l.version++
	l.items = nil
	l.removed = nil
}

// Owner は一覧の所有者を返す。
func (l *ProjectList) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// BeginFetch は取得の開始を記録し、Commitに渡すバージョンを返す。
func (l *ProjectList) BeginFetch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version++
	return l.version
}

// Commit はversionが最新の場合にitemsで一覧を置き換え、trueを返す。
// 最新でない場合は一覧を変更せず、取得開始後に削除された項目を除いたitemsを返す。
func (l *ProjectList) Commit(version uint64, items []model.Project) ([]model.Project, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if version == l.version {
		l.items = append([]model.Project(nil), items...)
		return append([]model.Project{}, items...), true
	}

	kept := make([]model.Project, 0, len(items))
	for _, p := range items {
		if v, ok := l.removed[p.ID]; ok && v > version {
			continue
		}
		kept = append(kept, p)
	}
	return kept, false
}

// Remove はidのプロジェクトを一覧から除き、実行中の取得結果を無効にする。
func (l *ProjectList) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version++
	if l.removed == nil {
		l.removed = make(map[string]uint64)
	}
	l.removed[id] = l.version
	kept := l.items[:0:0]
	for _, p := range l.items {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	l.items = kept
}

// Upsert はプロジェクトを一覧の先頭に追加するか、同じIDの項目を置き換える。
func (l *ProjectList) Upsert(p model.Project) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version++
	delete(l.removed, p.ID)
	for i := range l.items {
		if l.items[i].ID == p.ID {
			l.items[i] = p
			return
		}
	}
	l.items = append([]model.Project{p}, l.items...)
}

// Items は一覧のコピーを返す。
func (l *ProjectList) Items() []model.Project {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Project{}, l.items...)
}

// Version は現在のバージョンを返す。
func (l *ProjectList) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Refresh はtimeout以内にfetchで一覧を取得し、最新の取得であれば反映する。
// 呼び出し元に返す一覧と、反映されたかどうかを返す。
// 取得に失敗した場合は一覧を変更しない。
func (l *ProjectList) Refresh(ctx context.Context, timeout time.Duration, fetch func(ctx context.Context) ([]model.Project, error)) ([]model.Project, bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	version := l.BeginFetch()
	items, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	out, applied := l.Commit(version, items)
	return out, applied, nil
}
