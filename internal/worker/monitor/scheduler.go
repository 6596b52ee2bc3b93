// Package monitor はモニタリング有効ユーザーの定期的な履歴毒性分析を提供する。
// ストリーミングではなく、一定間隔のバッチ実行でその時点の履歴を分析する。
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/musicjunkieg/ideal-telegram/internal/analysis"
	"github.com/musicjunkieg/ideal-telegram/internal/model"
	"github.com/musicjunkieg/ideal-telegram/internal/repository"
)

// AnalysisRunner は分析パイプラインの実行インターフェース。
type AnalysisRunner interface {
	Run(ctx context.Context, ownerDID string, opts analysis.Options) (*analysis.Result, error)
}

// Scheduler はモニタリング分析のスケジューリングと並列制御を行う。
// 一定間隔のティッカーでモニタリング有効ユーザーを取得し、
// semaphoreパターンで最大並列数を制御しながら分析を実行する。
// 対象ユーザーはDIDごとに1回の実行となるため、同一オーナーの分析が
// 並行することはない。
type Scheduler struct {
	userRepo       repository.UserRepository
	runner         AnalysisRunner
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値3を使用する。
func NewScheduler(
	userRepo repository.UserRepository,
	runner AnalysisRunner,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}
	return &Scheduler{
		userRepo:       userRepo,
		runner:         runner,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("モニタリングスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("モニタリングサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("モニタリングスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("モニタリングサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はモニタリング有効ユーザーを1回取得し、並列で分析を実行する。
// semaphoreパターンで最大並列数を制御する。
// 個別ユーザーの分析失敗はログに記録し、サイクル全体は継続する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	users, err := s.userRepo.ListMonitoringEnabled(ctx)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		s.logger.Info("モニタリング対象のユーザーはいません")
		return nil
	}

	s.logger.Info("モニタリングサイクルを開始します",
		slog.Int("user_count", len(users)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, user := range users {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(u *model.User) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			result, err := s.runner.Run(ctx, u.DID, analysis.Options{})
			if err != nil {
				s.logger.Error("ユーザーの分析に失敗しました",
					slog.String("owner_did", u.DID),
					slog.String("error", err.Error()),
				)
				return
			}

			if result.FlaggedUsers > 0 || result.NewEvidence > 0 {
				s.logger.Info("モニタリングで新たな検出がありました",
					slog.String("owner_did", u.DID),
					slog.Int("flagged_users", result.FlaggedUsers),
					slog.Int("new_evidence", result.NewEvidence),
				)
			}
		}(user)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("モニタリングサイクルが完了しました",
		slog.Int("user_count", len(users)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
