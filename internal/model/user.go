// Package model はドメインモデルを定義する。
package model

import "time"

// ActionMode はフラグ検出時の自動アクション設定を表す。
type ActionMode string

const (
	// ActionModeAutoBlock は検出時に自動ブロックする設定。
	ActionModeAutoBlock ActionMode = "auto_block"
	// ActionModeDashboard はダッシュボードでの確認のみ行う設定。
	ActionModeDashboard ActionMode = "dashboard"
	// ActionModeEmailDigest はメールダイジェストで通知する設定。
	ActionModeEmailDigest ActionMode = "email_digest"
)

// DefaultToxicityThreshold はユーザー設定が存在しない場合の毒性閾値。
const DefaultToxicityThreshold = 0.7

// User はサービス利用ユーザー（分析のオーナー）を表す。
type User struct {
	DID               string
	Handle            string
	Email             string
	ActionMode        ActionMode
	ToxicityThreshold float64
	MonitoringEnabled bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
