package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// PostgresEvidenceRepo はPostgreSQLを使用した毒性証拠リポジトリ。
// toxicity_scoresカラムはjsonbとして保存する。
type PostgresEvidenceRepo struct {
	db *sql.DB
}

// NewPostgresEvidenceRepo はPostgresEvidenceRepoを生成する。
func NewPostgresEvidenceRepo(db *sql.DB) *PostgresEvidenceRepo {
	return &PostgresEvidenceRepo{db: db}
}

// ListPostURIsByFlaggedUser は指定フラグ済みユーザーの既存証拠の
// ポストURI全件を1回のクエリで返す。
func (r *PostgresEvidenceRepo) ListPostURIsByFlaggedUser(ctx context.Context, flaggedUserID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT post_uri FROM toxic_evidence WHERE flagged_user_id = $1`,
		flaggedUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("既存証拠の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("証拠行の読み取りに失敗しました: %w", err)
		}
		uris = append(uris, uri)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("証拠一覧の走査に失敗しました: %w", err)
	}

	return uris, nil
}

// Create は毒性証拠を1件追加する。
func (r *PostgresEvidenceRepo) Create(ctx context.Context, evidence *model.ToxicEvidence) error {
	scoresJSON, err := json.Marshal(evidence.ToxicityScores)
	if err != nil {
		return fmt.Errorf("毒性スコアのJSON変換に失敗しました: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO toxic_evidence
		    (flagged_user_id, post_uri, post_text, toxicity_scores,
		     primary_category, interaction_type, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		evidence.FlaggedUserID, evidence.PostURI, evidence.PostText, scoresJSON,
		evidence.PrimaryCategory, evidence.InteractionType, evidence.AnalyzedAt,
	).Scan(&evidence.ID)
	if err != nil {
		return fmt.Errorf("毒性証拠の作成に失敗しました: %w", err)
	}
	return nil
}
