// Package analysis は履歴毒性分析パイプラインを提供する。
// オーナーのポスト取得 → インタラクター発見 → 候補ポスト取得 →
// 毒性スコアリング → 集計・永続化 の5段階を順次実行する。
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/musicjunkieg/ideal-telegram/internal/bluesky"
	"github.com/musicjunkieg/ideal-telegram/internal/model"
	"github.com/musicjunkieg/ideal-telegram/internal/repository"
	"github.com/musicjunkieg/ideal-telegram/internal/security"
)

// FeedSource はアクターのフィード取得のインターフェース。
// テスト時にモックに差し替え可能。
type FeedSource interface {
	GetAuthorFeed(ctx context.Context, requestingDID, actorDID string, limit int, cursor string) (*bluesky.FeedPage, error)
}

// ProfileSource はアクターのプロフィール取得のインターフェース。
type ProfileSource interface {
	GetProfile(ctx context.Context, requestingDID, actorDID string) (*bluesky.Profile, error)
}

// InteractorSource はポスト単位のインタラクター発見のインターフェース。
type InteractorSource interface {
	GetInteractors(ctx context.Context, postURI string, maxResultsPerType int) ([]*model.Interactor, error)
}

// ToxicityAnalyzer はテキストの毒性スコアリングのインターフェース。
type ToxicityAnalyzer interface {
	Analyze(ctx context.Context, texts []string) ([]model.ToxicityScores, error)
}

// MetricsRecorder はパイプラインのメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordRunSuccess()
	RecordRunFailure()
	RecordPostsAnalyzed(count int)
	RecordUsersFlagged(count int)
	RecordEvidenceInserted(count int)
	RecordRunDuration(duration time.Duration)
}

// Config はパイプラインの動作パラメータを保持する。
type Config struct {
	// DefaultMaxPosts はクイックスキャン時のデフォルト分析ポスト数。
	DefaultMaxPosts int
	// PostsPerPage はオーナーポスト取得の1ページあたりの件数。
	PostsPerPage int
	// CandidateWindow はインタラクター1人あたりの直近ポスト取得件数。
	CandidateWindow int
	// DiscoveryWaveSize はバックリンク照会を並列実行するポスト数。
	DiscoveryWaveSize int
	// CandidateWaveSize は候補ポスト取得を並列実行するインタラクター数。
	CandidateWaveSize int
	// MaxBacklinksPerType はインタラクション種類ごとの最大バックリンク取得件数。
	MaxBacklinksPerType int
}

// DefaultConfig はデフォルトのパイプライン設定を返す。
func DefaultConfig() Config {
	return Config{
		DefaultMaxPosts:     100,
		PostsPerPage:        50,
		CandidateWindow:     50,
		DiscoveryWaveSize:   10,
		CandidateWaveSize:   5,
		MaxBacklinksPerType: 1000,
	}
}

// Options は1回の分析実行のオプションを表す。
type Options struct {
	// MaxPosts は分析対象の最大ポスト数。0の場合はデフォルト値を使用する。
	MaxPosts int
	// FullScan がtrueの場合はMaxPostsを無視して全ポストを対象にする。
	FullScan bool
}

// Result は1回の分析実行の結果サマリを表す。
type Result struct {
	PostsAnalyzed    int `json:"posts_analyzed"`
	InteractorsFound int `json:"interactors_found"`
	UsersAnalyzed    int `json:"users_analyzed"`
	FlaggedUsers     int `json:"flagged_users"`
	NewEvidence      int `json:"new_evidence"`
}

// Pipeline は履歴毒性分析パイプラインの実行本体。
// 全ての外部依存はコンストラクタで明示的に注入され、
// プロセス全体で共有される隠れたクライアント状態を持たない。
type Pipeline struct {
	feed        FeedSource
	profiles    ProfileSource
	interactors InteractorSource
	scorer      ToxicityAnalyzer
	users       repository.UserRepository
	flagged     repository.FlaggedUserRepository
	evidence    repository.EvidenceRepository
	sanitizer   security.EvidenceSanitizerService
	metrics     MetricsRecorder
	logger      *slog.Logger
	config      Config
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
func NewPipeline(
	feed FeedSource,
	profiles ProfileSource,
	interactors InteractorSource,
	scorer ToxicityAnalyzer,
	users repository.UserRepository,
	flagged repository.FlaggedUserRepository,
	evidence repository.EvidenceRepository,
	sanitizer security.EvidenceSanitizerService,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Pipeline {
	return &Pipeline{
		feed:        feed,
		profiles:    profiles,
		interactors: interactors,
		scorer:      scorer,
		users:       users,
		flagged:     flagged,
		evidence:    evidence,
		sanitizer:   sanitizer,
		metrics:     metrics,
		logger:      logger,
		config:      config,
	}
}

// Run はオーナー1人分の履歴毒性分析を実行する。
// 各ステージは前段の結果が全て揃ってから開始され、途中結果が空になった
// 時点で後段（特にスコアリングサービス呼び出し）を省略して早期終了する。
// 終端エラーまたはリトライ上限超過エラーが発生した場合は実行全体を
// 中断してエラーを返す。先に処理済みのアクターの永続化はロールバックされない。
func (p *Pipeline) Run(ctx context.Context, ownerDID string, opts Options) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()

	logger := p.logger.With(
		slog.String("run_id", runID),
		slog.String("owner_did", ownerDID),
	)

	maxPosts := opts.MaxPosts
	if opts.FullScan {
		maxPosts = 0
	} else if maxPosts <= 0 {
		maxPosts = p.config.DefaultMaxPosts
	}

	logger.Info("履歴毒性分析を開始します",
		slog.Int("max_posts", maxPosts),
		slog.Bool("full_scan", opts.FullScan),
	)

	// ステージ1: オーナーのポストを取得
	ownerPosts, err := p.fetchOwnerPosts(ctx, logger, ownerDID, maxPosts)
	if err != nil {
		p.metrics.RecordRunFailure()
		return nil, fmt.Errorf("オーナーポストの取得に失敗しました: %w", err)
	}

	if len(ownerPosts) == 0 {
		logger.Info("分析対象のポストがないため終了します")
		p.metrics.RecordRunSuccess()
		return &Result{}, nil
	}

	postURIs := make([]string, len(ownerPosts))
	for i, post := range ownerPosts {
		postURIs[i] = post.URI
	}

	// ステージ2: インタラクターを発見（リプライ・引用のみ、いいねのみは除外）
	interactors, err := p.findInteractors(ctx, logger, postURIs)
	if err != nil {
		p.metrics.RecordRunFailure()
		return nil, fmt.Errorf("インタラクターの発見に失敗しました: %w", err)
	}

	if len(interactors) == 0 {
		logger.Info("インタラクターが見つからないため終了します",
			slog.Int("posts_analyzed", len(ownerPosts)),
		)
		p.metrics.RecordRunSuccess()
		p.metrics.RecordPostsAnalyzed(len(ownerPosts))
		return &Result{PostsAnalyzed: len(ownerPosts)}, nil
	}

	// ステージ3: インタラクターのポストから分析対象の候補を取得
	candidates, err := p.fetchCandidatePosts(ctx, logger, ownerDID, interactors, postURIs)
	if err != nil {
		p.metrics.RecordRunFailure()
		return nil, fmt.Errorf("候補ポストの取得に失敗しました: %w", err)
	}

	if len(candidates) == 0 {
		logger.Info("分析対象の候補ポストがないため終了します",
			slog.Int("posts_analyzed", len(ownerPosts)),
			slog.Int("interactors_found", len(interactors)),
		)
		p.metrics.RecordRunSuccess()
		p.metrics.RecordPostsAnalyzed(len(ownerPosts))
		return &Result{
			PostsAnalyzed:    len(ownerPosts),
			InteractorsFound: len(interactors),
		}, nil
	}

	// ステージ4: 毒性スコアリング
	texts := make([]string, len(candidates))
	for i, candidate := range candidates {
		texts[i] = candidate.Text
	}

	scores, err := p.scorer.Analyze(ctx, texts)
	if err != nil {
		p.metrics.RecordRunFailure()
		return nil, fmt.Errorf("毒性スコアリングに失敗しました: %w", err)
	}

	// ステージ5: オーナーの毒性閾値を取得
	threshold, err := p.ownerThreshold(ctx, ownerDID)
	if err != nil {
		p.metrics.RecordRunFailure()
		return nil, fmt.Errorf("毒性閾値の取得に失敗しました: %w", err)
	}

	// ステージ6: 集計と永続化
	flaggedCount, evidenceCount, err := p.storeResults(ctx, logger, ownerDID, candidates, scores, threshold)
	if err != nil {
		p.metrics.RecordRunFailure()
		return nil, fmt.Errorf("分析結果の保存に失敗しました: %w", err)
	}

	// 分析対象となった（候補ポストを持つ）アクターの数
	usersAnalyzed := countDistinctAuthors(candidates)

	result := &Result{
		PostsAnalyzed:    len(ownerPosts),
		InteractorsFound: len(interactors),
		UsersAnalyzed:    usersAnalyzed,
		FlaggedUsers:     flaggedCount,
		NewEvidence:      evidenceCount,
	}

	p.metrics.RecordRunSuccess()
	p.metrics.RecordPostsAnalyzed(result.PostsAnalyzed)
	p.metrics.RecordUsersFlagged(result.FlaggedUsers)
	p.metrics.RecordEvidenceInserted(result.NewEvidence)
	p.metrics.RecordRunDuration(time.Since(start))

	logger.Info("履歴毒性分析が完了しました",
		slog.Int("posts_analyzed", result.PostsAnalyzed),
		slog.Int("interactors_found", result.InteractorsFound),
		slog.Int("users_analyzed", result.UsersAnalyzed),
		slog.Int("flagged_users", result.FlaggedUsers),
		slog.Int("new_evidence", result.NewEvidence),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// ownerThreshold はオーナーの毒性閾値を取得する。
// ユーザー行が存在しない場合はデフォルト値0.7を返す。
func (p *Pipeline) ownerThreshold(ctx context.Context, ownerDID string) (float64, error) {
	user, err := p.users.FindByDID(ctx, ownerDID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return model.DefaultToxicityThreshold, nil
	}
	return user.ToxicityThreshold, nil
}

// countDistinctAuthors は候補ポストの作者の異なり数を返す。
func countDistinctAuthors(candidates []*model.CandidatePost) int {
	seen := make(map[string]bool)
	for _, candidate := range candidates {
		seen[candidate.AuthorDID] = true
	}
	return len(seen)
}
