package model

import "time"

// FlaggedStatus はフラグ済みユーザーへの対応状態を表す。
type FlaggedStatus string

const (
	// FlaggedStatusPending は未対応の状態。
	FlaggedStatusPending FlaggedStatus = "pending"
	// FlaggedStatusBlocked はブロック済みの状態。
	FlaggedStatusBlocked FlaggedStatus = "blocked"
	// FlaggedStatusMuted はミュート済みの状態。
	FlaggedStatusMuted FlaggedStatus = "muted"
	// FlaggedStatusDismissed は却下された状態。
	FlaggedStatusDismissed FlaggedStatus = "dismissed"
)

// FlaggedUser は毒性が閾値を超えたアクターを表す。
// (OwnerDID, FlaggedDID) の組がユニークキーとなる。
// 初回検出時に作成され、以降の分析実行では更新のみ行われる。
// このサブシステムから削除されることはない。
type FlaggedUser struct {
	ID                     int64
	OwnerDID               string
	FlaggedDID             string
	FlaggedHandle          string // 表示用にキャッシュされたハンドル。取得失敗時は空。
	AggregateToxicityScore float64
	ToxicPostCount         int
	Status                 FlaggedStatus
	FirstDetectedAt        time.Time
	LastActivityAt         time.Time
}

// ToxicEvidence はフラグの根拠となる毒性ポスト1件を表す。
// FlaggedUserID内でPostURIはユニーク。追記専用で更新されない。
type ToxicEvidence struct {
	ID              int64
	FlaggedUserID   int64
	PostURI         string
	PostText        string
	ToxicityScores  ToxicityScores
	PrimaryCategory string
	InteractionType InteractionType
	AnalyzedAt      time.Time
}
