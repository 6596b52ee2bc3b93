package analysis

import (
	"context"
	"log/slog"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// fetchOwnerPosts はオーナー自身のテキスト付きポストを取得する。
// ページサイズは固定（PostsPerPage）で、テキストフィールドを持たない
// レコードはスキップする。maxPostsが正の場合はその件数で打ち切る。
//
// 既知の制限: 2ページ目以降への継続取得は配線されておらず、
// 最初のページを超える取得はできない。maxPostsが0（全件走査）の場合も
// 実際には最初のページのみが対象となる。
// TODO: GetAuthorFeedのカーソルを次ページ要求に引き渡し、全件走査を可能にする
func (p *Pipeline) fetchOwnerPosts(ctx context.Context, logger *slog.Logger, ownerDID string, maxPosts int) ([]*model.Post, error) {
	var posts []*model.Post

	for maxPosts == 0 || len(posts) < maxPosts {
		limit := p.config.PostsPerPage
		if maxPosts > 0 && maxPosts-len(posts) < limit {
			limit = maxPosts - len(posts)
		}

		page, err := p.feed.GetAuthorFeed(ctx, ownerDID, ownerDID, limit, "")
		if err != nil {
			return nil, err
		}

		for _, feedPost := range page.Posts {
			if !feedPost.Record.HasText() {
				continue
			}
			posts = append(posts, &model.Post{
				URI:       feedPost.URI,
				Text:      feedPost.Record.Text,
				AuthorDID: ownerDID,
			})
		}

		if page.Cursor == "" || len(page.Posts) == 0 {
			break
		}

		// 継続ページの取得は未配線のため、必要件数が残っていても最初の
		// ページで打ち切る
		if maxPosts == 0 || len(posts) < maxPosts {
			logger.Warn("フィードの継続取得は未実装のため最初のページのみを分析対象とします",
				slog.Int("fetched_posts", len(posts)),
				slog.Int("max_posts", maxPosts),
			)
			break
		}
	}

	if maxPosts > 0 && len(posts) > maxPosts {
		posts = posts[:maxPosts]
	}

	logger.Info("オーナーポストを取得しました",
		slog.Int("post_count", len(posts)),
	)

	return posts, nil
}
