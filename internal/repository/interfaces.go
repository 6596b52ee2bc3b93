// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByDID は指定DIDのユーザーを取得する。見つからない場合はnilを返す。
	FindByDID(ctx context.Context, did string) (*model.User, error)

	// ListMonitoringEnabled はモニタリングが有効な全ユーザーを返す。
	// 定期分析ワーカーの実行対象の列挙に使用する。
	ListMonitoringEnabled(ctx context.Context) ([]*model.User, error)
}

// FlaggedUserRepository はフラグ済みユーザーデータの永続化インターフェース。
type FlaggedUserRepository interface {
	// FindByOwnerAndFlagged は(ownerDID, flaggedDID)でフラグ済みユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByOwnerAndFlagged(ctx context.Context, ownerDID, flaggedDID string) (*model.FlaggedUser, error)

	// Create はフラグ済みユーザーを新規作成し、採番されたIDをflagged.IDに設定する。
	Create(ctx context.Context, flagged *model.FlaggedUser) error

	// UpdateAnalysisResult は分析実行による更新を適用する。
	// aggregate_toxicity_score、toxic_post_count、flagged_handle、
	// last_activity_atを更新する。statusとfirst_detected_atは変更しない。
	UpdateAnalysisResult(ctx context.Context, flagged *model.FlaggedUser) error
}

// EvidenceRepository は毒性証拠データの永続化インターフェース。
type EvidenceRepository interface {
	// ListPostURIsByFlaggedUser は指定フラグ済みユーザーの既存証拠の
	// ポストURI全件を1回のクエリで返す。重複挿入の回避に使用する。
	ListPostURIsByFlaggedUser(ctx context.Context, flaggedUserID int64) ([]string, error)

	// Create は毒性証拠を1件追加する。証拠は追記専用で更新されない。
	Create(ctx context.Context, evidence *model.ToxicEvidence) error
}
