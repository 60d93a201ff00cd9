package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kouame09/225-OS-sub000/internal/backend"
)

// fallbackSlug は名前から英数字が1文字も残らなかった場合のスラッグ。
const fallbackSlug = "project"

// Slugify はプロジェクト名からURLスラッグを生成する。
// 小文字化し、アクセントを取り除き、空白をハイフンに置き換え、
// 英数字・アンダースコア・ハイフン以外を削除し、連続するハイフンを1つにまとめ、
// 先頭と末尾のハイフンを除く。
func Slugify(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	lastHyphen := false
	for _, r := range stripped {
		switch {
		case unicode.IsSpace(r) || r == '-':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		case isWordChar(r):
			b.WriteRune(r)
			lastHyphen = false
		}
	}
	return strings.Trim(b.String(), "-")
}

func isWordChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// uniqueSlug は既存プロジェクトと重複しないスラッグを返す。
// baseが使われていれば base-2, base-3 ... の順に空きを探す。
func (s *Service) uniqueSlug(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = fallbackSlug
	}

	var rows []struct {
		Slug string `json:"slug"`
	}
	err := s.api.Do(ctx, backend.Request{
		Op:     "projects.slugs",
		Method: http.MethodGet,
		Path:   projectsPath,
		Query: url.Values{
			"select": {"slug"},
			"slug":   {"like." + base + "*"},
		},
	}, &rows)
	if err != nil {
		return "", fmt.Errorf("check slug %s: %w", base, err)
	}

	taken := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		taken[r.Slug] = struct{}{}
	}
	if _, ok := taken[base]; !ok {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}
