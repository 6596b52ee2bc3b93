package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByDID は指定DIDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByDID(ctx context.Context, did string) (*model.User, error) {
	user := &model.User{}
	var email sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT did, handle, email, action_mode, toxicity_threshold,
		        monitoring_enabled, created_at, updated_at
		 FROM users WHERE did = $1`,
		did,
	).Scan(
		&user.DID, &user.Handle, &email, &user.ActionMode,
		&user.ToxicityThreshold, &user.MonitoringEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	user.Email = nullStringValue(email)

	return user, nil
}

// ListMonitoringEnabled はモニタリングが有効な全ユーザーを返す。
func (r *PostgresUserRepo) ListMonitoringEnabled(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT did, handle, email, action_mode, toxicity_threshold,
		        monitoring_enabled, created_at, updated_at
		 FROM users
		 WHERE monitoring_enabled = true
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("モニタリング対象ユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		var email sql.NullString

		if err := rows.Scan(
			&user.DID, &user.Handle, &email, &user.ActionMode,
			&user.ToxicityThreshold, &user.MonitoringEnabled,
			&user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ユーザー行の読み取りに失敗しました: %w", err)
		}

		user.Email = nullStringValue(email)
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の走査に失敗しました: %w", err)
	}

	return users, nil
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringの値を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
