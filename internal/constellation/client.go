// Package constellation はバックリンクインデックス（Constellation）連携機能を提供する。
// ATProtoネットワーク全体のインタラクションを索引化したAPIを呼び出し、
// 特定ポストへのリプライ・引用・いいねを行ったアクターを発見する。
package constellation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
	"github.com/musicjunkieg/ideal-telegram/internal/retry"
)

const (
	// defaultBaseURL はConstellation APIのデフォルトエンドポイント。
	defaultBaseURL = "https://constellation.microcosm.blue"
	// userAgent はAPI呼び出し時のUser-Agentヘッダ。
	userAgent = "Charcoal (github.com/musicjunkieg/ideal-telegram)"
	// maxPageSize は1リクエストあたりの最大取得件数。
	maxPageSize = 100
	// DefaultMaxResults はインタラクション種類ごとのデフォルト最大取得件数。
	DefaultMaxResults = 1000
)

// Source はインタラクション種類ごとのバックリンク検索パスを表す。
type Source string

const (
	// SourceReply はリプライのバックリンク検索パス。
	SourceReply Source = "app.bsky.feed.post:reply.parent.uri"
	// SourceQuote は引用のバックリンク検索パス。
	SourceQuote Source = "app.bsky.feed.post:embed.record.uri"
	// SourceLike はいいねのバックリンク検索パス。
	SourceLike Source = "app.bsky.feed.like:subject.uri"
)

// interactionTypeOf は検索パスに対応するインタラクション種類を返す。
func interactionTypeOf(source Source) model.InteractionType {
	switch source {
	case SourceReply:
		return model.InteractionReply
	case SourceQuote:
		return model.InteractionQuote
	default:
		return model.InteractionLike
	}
}

// BacklinkRecord はConstellation APIが返すバックリンク1件を表す。
type BacklinkRecord struct {
	DID string `json:"did"`
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
}

// backlinksResponse はgetBacklinksエンドポイントのレスポンスを表す。
type backlinksResponse struct {
	Links  []BacklinkRecord `json:"links"`
	Cursor string           `json:"cursor,omitempty"`
}

// Client はConstellation APIのクライアント。
// ページネーション付きのバックリンク取得と、ポスト単位のインタラクター発見を提供する。
// 各ページリクエストはリトライエグゼキュータを経由し、レートリミッターで
// 外部APIへのリクエスト送出を平準化する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	retryCfg   retry.Config
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// limiterがnilの場合はレート制限なしで動作する。
func NewClient(httpClient *http.Client, logger *slog.Logger, limiter *rate.Limiter, retryCfg retry.Config) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    limiter,
		retryCfg:   retryCfg,
		baseURL:    defaultBaseURL,
	}
}

// SetBaseURL はAPIエンドポイントを差し替える。空文字列の場合は何もしない。
func (c *Client) SetBaseURL(u string) {
	if u != "" {
		c.baseURL = u
	}
}

// fetchPage はバックリンクの1ページ分を取得する。
// HTTPエラーはStatusErrorとして返し、リトライ分類に使用される。
func (c *Client) fetchPage(ctx context.Context, subject string, source Source, cursor string, limit int) (*backlinksResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(c.baseURL + "/xrpc/blue.microcosm.links.getBacklinks")
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("subject", subject)
	q.Set("source", string(source))
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{
			StatusCode: resp.StatusCode,
			Message:    "Constellation APIがエラーを返しました",
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result backlinksResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return &result, nil
}

// GetBacklinks は対象ポストのバックリンクをページネーションで全件取得する。
// 継続トークンが存在し直前のページが空でない間は次ページを取得し続け、
// maxResultsに達した場合は切り詰めて返す。
// いずれかのページで終端エラーが発生した場合、そのインタラクション種類の
// 取得全体を中断してエラーを返す。
func (c *Client) GetBacklinks(ctx context.Context, subject string, source Source, maxResults int) ([]BacklinkRecord, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var results []BacklinkRecord
	var cursor string

	for len(results) < maxResults {
		remaining := maxResults - len(results)
		limit := maxPageSize
		if remaining < limit {
			limit = remaining
		}

		page, err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) (*backlinksResponse, error) {
			return c.fetchPage(ctx, subject, source, cursor, limit)
		})
		if err != nil {
			c.logger.Error("バックリンクページの取得に失敗しました",
				slog.String("subject", subject),
				slog.String("source", string(source)),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		results = append(results, page.Links...)

		if page.Cursor == "" || len(page.Links) == 0 {
			break
		}
		cursor = page.Cursor
	}

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// GetInteractors は対象ポストにインタラクションした全アクターを重複なく返す。
// リプライ・引用・いいねの3種類を順に取得してDIDごとにマージし、
// 各アクターが行ったインタラクション種類の集合を付与する。
// 返却順序は最初に観測された順（挿入順）で決定的となる。
func (c *Client) GetInteractors(ctx context.Context, postURI string, maxResultsPerType int) ([]*model.Interactor, error) {
	sources := []Source{SourceReply, SourceQuote, SourceLike}

	byDID := make(map[string]*model.Interactor)
	var order []string

	for _, source := range sources {
		records, err := c.GetBacklinks(ctx, postURI, source, maxResultsPerType)
		if err != nil {
			return nil, fmt.Errorf("インタラクターの取得に失敗しました: %w", err)
		}

		itype := interactionTypeOf(source)
		for _, record := range records {
			interactor, ok := byDID[record.DID]
			if !ok {
				interactor = &model.Interactor{DID: record.DID}
				byDID[record.DID] = interactor
				order = append(order, record.DID)
			}
			if !interactor.HasType(itype) {
				interactor.Types = append(interactor.Types, itype)
			}
		}
	}

	interactors := make([]*model.Interactor, 0, len(order))
	for _, did := range order {
		interactors = append(interactors, byDID[did])
	}

	return interactors, nil
}
