package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// PostgresFlaggedUserRepo はPostgreSQLを使用したフラグ済みユーザーリポジトリ。
type PostgresFlaggedUserRepo struct {
	db *sql.DB
}

// NewPostgresFlaggedUserRepo はPostgresFlaggedUserRepoを生成する。
func NewPostgresFlaggedUserRepo(db *sql.DB) *PostgresFlaggedUserRepo {
	return &PostgresFlaggedUserRepo{db: db}
}

// FindByOwnerAndFlagged は(ownerDID, flaggedDID)でフラグ済みユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresFlaggedUserRepo) FindByOwnerAndFlagged(ctx context.Context, ownerDID, flaggedDID string) (*model.FlaggedUser, error) {
	flagged := &model.FlaggedUser{}
	var handle sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_did, flagged_did, flagged_handle,
		        aggregate_toxicity_score, toxic_post_count, status,
		        first_detected_at, last_activity_at
		 FROM flagged_users
		 WHERE owner_did = $1 AND flagged_did = $2`,
		ownerDID, flaggedDID,
	).Scan(
		&flagged.ID, &flagged.OwnerDID, &flagged.FlaggedDID, &handle,
		&flagged.AggregateToxicityScore, &flagged.ToxicPostCount, &flagged.Status,
		&flagged.FirstDetectedAt, &flagged.LastActivityAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フラグ済みユーザーの検索に失敗しました: %w", err)
	}

	flagged.FlaggedHandle = nullStringValue(handle)

	return flagged, nil
}

// Create はフラグ済みユーザーを新規作成し、採番されたIDをflagged.IDに設定する。
func (r *PostgresFlaggedUserRepo) Create(ctx context.Context, flagged *model.FlaggedUser) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO flagged_users
		    (owner_did, flagged_did, flagged_handle,
		     aggregate_toxicity_score, toxic_post_count, status,
		     first_detected_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		flagged.OwnerDID, flagged.FlaggedDID, nullString(flagged.FlaggedHandle),
		flagged.AggregateToxicityScore, flagged.ToxicPostCount, flagged.Status,
		flagged.FirstDetectedAt, flagged.LastActivityAt,
	).Scan(&flagged.ID)
	if err != nil {
		return fmt.Errorf("フラグ済みユーザーの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateAnalysisResult は分析実行による更新を適用する。
// statusとfirst_detected_atは変更しない。
func (r *PostgresFlaggedUserRepo) UpdateAnalysisResult(ctx context.Context, flagged *model.FlaggedUser) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE flagged_users SET
		    aggregate_toxicity_score = $2,
		    toxic_post_count = $3,
		    flagged_handle = $4,
		    last_activity_at = $5
		 WHERE id = $1`,
		flagged.ID,
		flagged.AggregateToxicityScore, flagged.ToxicPostCount,
		nullString(flagged.FlaggedHandle), flagged.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("フラグ済みユーザーの更新に失敗しました: %w", err)
	}
	return nil
}
