package analysis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// findInteractors はポストURI集合に対するインタラクターを重複なく発見する。
// リクエスト増幅を抑えるためポストを固定サイズのウェーブに分けて並列照会し、
// ウェーブの全結果が揃ってからシングルスレッドでDIDごとにマージする。
// インタラクション種類の集合は全ポストを通じて統合される
// （ポストAのリプライ者がポストBでいいねした場合、両方の種類を保持する）。
// 返却はリプライまたは引用を持つアクターのみに絞り込まれ、
// いいねのみのアクターは分析対象のテキストを持たないため除外される。
// 順序は最初に観測された順（挿入順）で決定的となる。
func (p *Pipeline) findInteractors(ctx context.Context, logger *slog.Logger, postURIs []string) ([]*model.Interactor, error) {
	byDID := make(map[string]*model.Interactor)
	var order []string

	waveSize := p.config.DiscoveryWaveSize
	if waveSize <= 0 {
		waveSize = 10
	}

	for i := 0; i < len(postURIs); i += waveSize {
		end := i + waveSize
		if end > len(postURIs) {
			end = len(postURIs)
		}
		wave := postURIs[i:end]

		// ウェーブ内は並列照会し、結果はポジションごとに独立して保持する
		results := make([][]*model.Interactor, len(wave))
		errs := make([]error, len(wave))
		var wg sync.WaitGroup

		for j, uri := range wave {
			wg.Add(1)
			go func(idx int, postURI string) {
				defer wg.Done()
				results[idx], errs[idx] = p.interactors.GetInteractors(ctx, postURI, p.config.MaxBacklinksPerType)
			}(j, uri)
		}

		wg.Wait()

		// マージはウェーブ完了後にシングルスレッドで行う（ロック不要）
		for j := range wave {
			if errs[j] != nil {
				return nil, errs[j]
			}
			for _, interactor := range results[j] {
				merged, ok := byDID[interactor.DID]
				if !ok {
					merged = &model.Interactor{DID: interactor.DID}
					byDID[interactor.DID] = merged
					order = append(order, interactor.DID)
				}
				for _, itype := range interactor.Types {
					if !merged.HasType(itype) {
						merged.Types = append(merged.Types, itype)
					}
				}
			}
		}
	}

	// いいねのみのアクターを除外（スコアリング対象のテキストが存在しない）
	var filtered []*model.Interactor
	for _, did := range order {
		if byDID[did].HasAnalyzableInteraction() {
			filtered = append(filtered, byDID[did])
		}
	}

	logger.Info("インタラクターを発見しました",
		slog.Int("total_actors", len(order)),
		slog.Int("analyzable_actors", len(filtered)),
	)

	return filtered, nil
}
