package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプロジェクト説明やプロフィールの自己紹介など、
// プレーンテキストとして表示するユーザー入力からHTMLを取り除く。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はタグを除去し、エスケープされた文字参照を元に戻して前後の空白を除く。
// 同じ入力に対して常に同じ結果を返す。
func (s *TextSanitizer) PlainText(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(input)))
}
