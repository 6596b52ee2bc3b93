package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
	"github.com/musicjunkieg/ideal-telegram/internal/toxicity"
)

// scoredPost は候補ポストとそのスコアの組を保持する。
type scoredPost struct {
	post     *model.CandidatePost
	scores   model.ToxicityScores
	maxScore float64
}

// storeResults はスコア済み候補ポストを作者ごとに集計し、閾値を超えた
// 作者をフラグ済みユーザーとして冪等に永続化する。
// 戻り値は（新規フラグ数, 新規証拠数, エラー）。
//
// 作者ごとの処理:
//   - 最大スコアが閾値以上のポストのみを対象とし、1件もなければ
//     永続化もカウントも行わない。
//   - 今回実行の集計スコアは対象ポストの最大スコアの算術平均
//     （実行単位の値であり、累積平均の再計算ではない）。
//   - 既存行があれば aggregate_toxicity_score は過去値との最大値を取り
//     （後の実行で下がらないウォーターマーク）、toxic_post_count は加算する。
//   - ハンドル取得の失敗は無視し、フィールドを未設定/既存値のまま残す。
//   - 証拠挿入前に既存証拠のURI集合を1回のクエリで読み取り、
//     重複するpost_uriの挿入を回避する。
//
// 永続化は作者単位であり実行全体のトランザクションではない。途中の作者で
// エラーが発生した場合、処理済み作者の書き込みはロールバックされない。
func (p *Pipeline) storeResults(ctx context.Context, logger *slog.Logger, ownerDID string, candidates []*model.CandidatePost, scores []model.ToxicityScores, threshold float64) (int, int, error) {
	// 作者ごとにグループ化（挿入順を保持して決定的に処理する）
	byAuthor := make(map[string][]*scoredPost)
	var authorOrder []string

	for i, candidate := range candidates {
		if _, ok := byAuthor[candidate.AuthorDID]; !ok {
			authorOrder = append(authorOrder, candidate.AuthorDID)
		}
		byAuthor[candidate.AuthorDID] = append(byAuthor[candidate.AuthorDID], &scoredPost{
			post:     candidate,
			scores:   scores[i],
			maxScore: toxicity.MaxScore(scores[i]),
		})
	}

	var flaggedCount, evidenceCount int

	for _, authorDID := range authorOrder {
		authorPosts := byAuthor[authorDID]

		// 閾値以上のポストのみ対象
		var toxicPosts []*scoredPost
		for _, sp := range authorPosts {
			if sp.maxScore >= threshold {
				toxicPosts = append(toxicPosts, sp)
			}
		}

		if len(toxicPosts) == 0 {
			continue
		}

		// 今回実行の集計スコア: 対象ポストの最大スコアの算術平均
		var sum float64
		for _, sp := range toxicPosts {
			sum += sp.maxScore
		}
		runAggregate := sum / float64(len(toxicPosts))

		// 表示用ハンドルの取得（ベストエフォート: 失敗しても続行する）
		var handle string
		if profile, err := p.profiles.GetProfile(ctx, ownerDID, authorDID); err == nil {
			handle = profile.Handle
		} else {
			logger.Warn("ハンドルの取得に失敗しました（未設定のまま続行します）",
				slog.String("flagged_did", authorDID),
				slog.String("error", err.Error()),
			)
		}

		flaggedUserID, isNew, err := p.upsertFlaggedUser(ctx, ownerDID, authorDID, handle, runAggregate, len(toxicPosts))
		if err != nil {
			return flaggedCount, evidenceCount, err
		}
		if isNew {
			flaggedCount++
		}

		// 既存証拠のURIを1回のクエリでまとめて読み取り、重複挿入を避ける
		existingURIs, err := p.evidence.ListPostURIsByFlaggedUser(ctx, flaggedUserID)
		if err != nil {
			return flaggedCount, evidenceCount, err
		}
		recorded := make(map[string]bool, len(existingURIs))
		for _, uri := range existingURIs {
			recorded[uri] = true
		}

		now := time.Now()
		for _, sp := range toxicPosts {
			if recorded[sp.post.URI] {
				continue
			}
			err := p.evidence.Create(ctx, &model.ToxicEvidence{
				FlaggedUserID:   flaggedUserID,
				PostURI:         sp.post.URI,
				PostText:        p.sanitizer.Sanitize(sp.post.Text),
				ToxicityScores:  sp.scores,
				PrimaryCategory: toxicity.PrimaryCategory(sp.scores),
				InteractionType: sp.post.InteractionType,
				AnalyzedAt:      now,
			})
			if err != nil {
				return flaggedCount, evidenceCount, err
			}
			// 同一実行内で同じURIが再度現れても重複させない
			recorded[sp.post.URI] = true
			evidenceCount++
		}

		logger.Info("フラグ済みユーザーを記録しました",
			slog.String("flagged_did", authorDID),
			slog.Bool("newly_flagged", isNew),
			slog.Float64("run_aggregate_score", runAggregate),
			slog.Int("toxic_post_count", len(toxicPosts)),
		)
	}

	return flaggedCount, evidenceCount, nil
}

// upsertFlaggedUser はフラグ済みユーザー行を(ownerDID, flaggedDID)キーで
// 冪等に作成または更新する。戻り値は（行ID, 新規作成か, エラー）。
func (p *Pipeline) upsertFlaggedUser(ctx context.Context, ownerDID, flaggedDID, handle string, runAggregate float64, runCount int) (int64, bool, error) {
	existing, err := p.flagged.FindByOwnerAndFlagged(ctx, ownerDID, flaggedDID)
	if err != nil {
		return 0, false, err
	}

	now := time.Now()

	if existing != nil {
		// aggregate_toxicity_scoreは下がらないウォーターマーク
		if runAggregate > existing.AggregateToxicityScore {
			existing.AggregateToxicityScore = runAggregate
		}
		existing.ToxicPostCount += runCount
		existing.LastActivityAt = now
		// ハンドルは取得成功時のみ置き換え、失敗時は既存値を保持する
		if handle != "" {
			existing.FlaggedHandle = handle
		}

		if err := p.flagged.UpdateAnalysisResult(ctx, existing); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	flagged := &model.FlaggedUser{
		OwnerDID:               ownerDID,
		FlaggedDID:             flaggedDID,
		FlaggedHandle:          handle,
		AggregateToxicityScore: runAggregate,
		ToxicPostCount:         runCount,
		Status:                 model.FlaggedStatusPending,
		FirstDetectedAt:        now,
		LastActivityAt:         now,
	}
	if err := p.flagged.Create(ctx, flagged); err != nil {
		return 0, false, err
	}
	return flagged.ID, true, nil
}
