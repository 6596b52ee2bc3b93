// Package security はアプリケーションのセキュリティ機能を提供する。
//
// EvidenceSanitizerService は証拠として保存するポストテキストをサニタイズし、
// ダッシュボード表示時のXSS攻撃などのセキュリティリスクからユーザーを保護する。
// bluemondayライブラリの厳格ポリシーで全てのマークアップを除去する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// EvidenceSanitizerService は証拠テキストのサニタイズ機能のインターフェースを定義する。
// 毒性証拠の保存前に使用される。
type EvidenceSanitizerService interface {
	// Sanitize はポストテキストからマークアップを全て除去してプレーンテキストを返す。
	// Blueskyのポストテキストは本来プレーンテキストだが、保存した証拠が
	// 後からダッシュボードに表示されるため、念のため全タグを除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(text string) string
}

// evidenceSanitizer はEvidenceSanitizerServiceの実装。
// bluemondayの厳格ポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type evidenceSanitizer struct {
	policy *bluemonday.Policy
}

// NewEvidenceSanitizer はEvidenceSanitizerServiceの新しいインスタンスを生成する。
// 厳格ポリシー（全タグ除去）を使用する。
func NewEvidenceSanitizer() *evidenceSanitizer {
	return &evidenceSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はポストテキストからマークアップを全て除去する。
// StrictPolicyはタグ除去後にHTMLエンティティをエスケープするため、
// プレーンテキストとして保存できるようアンエスケープして返す。
func (s *evidenceSanitizer) Sanitize(text string) string {
	return html.UnescapeString(s.policy.Sanitize(text))
}
