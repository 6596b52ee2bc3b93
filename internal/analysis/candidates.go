package analysis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// fetchCandidatePosts はインタラクターの直近ポストのうち、オーナーの
// ポストへのリプライまたは引用のみを候補として返す。
// インタラクターは固定サイズのウェーブに分けて並列処理する。
// 個別インタラクターの取得失敗（非公開アカウント、削除済みアカウント、
// リトライ上限超過など)は、そのインタラクターの候補0件として扱い、
// バッチ全体や実行全体を中断させない。
func (p *Pipeline) fetchCandidatePosts(ctx context.Context, logger *slog.Logger, ownerDID string, interactors []*model.Interactor, ownerPostURIs []string) ([]*model.CandidatePost, error) {
	ownerURISet := make(map[string]bool, len(ownerPostURIs))
	for _, uri := range ownerPostURIs {
		ownerURISet[uri] = true
	}

	waveSize := p.config.CandidateWaveSize
	if waveSize <= 0 {
		waveSize = 5
	}

	var candidates []*model.CandidatePost

	for i := 0; i < len(interactors); i += waveSize {
		end := i + waveSize
		if end > len(interactors) {
			end = len(interactors)
		}
		wave := interactors[i:end]

		results := make([][]*model.CandidatePost, len(wave))
		var wg sync.WaitGroup

		for j, interactor := range wave {
			wg.Add(1)
			go func(idx int, actor *model.Interactor) {
				defer wg.Done()
				results[idx] = p.fetchInteractorCandidates(ctx, logger, ownerDID, actor, ownerURISet)
			}(j, interactor)
		}

		wg.Wait()

		for _, result := range results {
			candidates = append(candidates, result...)
		}
	}

	logger.Info("候補ポストを取得しました",
		slog.Int("interactor_count", len(interactors)),
		slog.Int("candidate_count", len(candidates)),
	)

	return candidates, nil
}

// fetchInteractorCandidates は1インタラクター分の候補ポストを取得する。
// 取得失敗は警告ログを出して空スライスを返す（分離エラー: 呼び出し元へ
// 伝播させない）。
func (p *Pipeline) fetchInteractorCandidates(ctx context.Context, logger *slog.Logger, ownerDID string, interactor *model.Interactor, ownerURISet map[string]bool) []*model.CandidatePost {
	page, err := p.feed.GetAuthorFeed(ctx, ownerDID, interactor.DID, p.config.CandidateWindow, "")
	if err != nil {
		logger.Warn("インタラクターのポスト取得に失敗したためスキップします",
			slog.String("interactor_did", interactor.DID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var candidates []*model.CandidatePost

	for _, feedPost := range page.Posts {
		if !feedPost.Record.HasText() {
			continue
		}

		// オーナーのポストへのリプライ
		if parentURI, ok := feedPost.Record.ReplyParentURI(); ok && ownerURISet[parentURI] {
			candidates = append(candidates, &model.CandidatePost{
				URI:             feedPost.URI,
				Text:            feedPost.Record.Text,
				AuthorDID:       interactor.DID,
				InteractionType: model.InteractionReply,
			})
		}

		// オーナーのポストの引用
		if quotedURI, ok := feedPost.Record.QuotedURI(); ok && ownerURISet[quotedURI] {
			candidates = append(candidates, &model.CandidatePost{
				URI:             feedPost.URI,
				Text:            feedPost.Record.Text,
				AuthorDID:       interactor.DID,
				InteractionType: model.InteractionQuote,
			})
		}
	}

	return candidates
}
