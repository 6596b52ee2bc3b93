// Package bluesky はBluesky AppView APIのクライアント機能を提供する。
// アクターのフィード取得とプロフィール取得をリトライ付きで実行する。
package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/musicjunkieg/ideal-telegram/internal/retry"
)

const (
	// defaultBaseURL は公開AppView APIのデフォルトエンドポイント。
	defaultBaseURL = "https://public.api.bsky.app"
	// userAgent はAPI呼び出し時のUser-Agentヘッダ。
	userAgent = "Charcoal (github.com/musicjunkieg/ideal-telegram)"
)

// RecordRef は他レコードへの参照（AT-URI）を表す。
type RecordRef struct {
	URI string `json:"uri"`
}

// ReplyRef はリプライ先の参照を表す。
type ReplyRef struct {
	Parent RecordRef `json:"parent"`
	Root   RecordRef `json:"root"`
}

// EmbedRef はレコード埋め込み（引用）の参照を表す。
type EmbedRef struct {
	Type   string     `json:"$type"`
	Record *RecordRef `json:"record,omitempty"`
}

// embedTypeRecord は引用埋め込みの$type値。
const embedTypeRecord = "app.bsky.embed.record"

// PostRecord はポストレコードの内容を表す。
// テキスト・リプライ参照・埋め込みはいずれも省略され得るため、
// 欠落を明示したオプショナルフィールドとしてモデル化し、
// 取り込み境界でここに検証を集約する。
type PostRecord struct {
	Text  string    `json:"text,omitempty"`
	Reply *ReplyRef `json:"reply,omitempty"`
	Embed *EmbedRef `json:"embed,omitempty"`
}

// HasText はレコードがテキストフィールドを持つかを返す。
func (r *PostRecord) HasText() bool {
	return r != nil && r.Text != ""
}

// ReplyParentURI はリプライ先ポストのURIを返す。
// リプライでない場合は空文字列とfalseを返す。
func (r *PostRecord) ReplyParentURI() (string, bool) {
	if r == nil || r.Reply == nil || r.Reply.Parent.URI == "" {
		return "", false
	}
	return r.Reply.Parent.URI, true
}

// QuotedURI は引用先ポストのURIを返す。
// レコード埋め込みの引用でない場合は空文字列とfalseを返す。
func (r *PostRecord) QuotedURI() (string, bool) {
	if r == nil || r.Embed == nil || r.Embed.Type != embedTypeRecord ||
		r.Embed.Record == nil || r.Embed.Record.URI == "" {
		return "", false
	}
	return r.Embed.Record.URI, true
}

// Author はポスト作者の情報を表す。
type Author struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// FeedPost はフィード内の1ポストを表す。
type FeedPost struct {
	URI    string      `json:"uri"`
	Author Author      `json:"author"`
	Record *PostRecord `json:"record,omitempty"`
}

// feedItem はgetAuthorFeedレスポンス内の1要素を表す。
type feedItem struct {
	Post FeedPost `json:"post"`
}

// FeedPage はgetAuthorFeedの1ページ分の結果を表す。
type FeedPage struct {
	Posts  []FeedPost
	Cursor string
}

// Profile はアクターのプロフィールを表す。
type Profile struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// Client はBluesky AppView APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	retryCfg   retry.Config
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, retryCfg retry.Config) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
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

// get はXRPCエンドポイントへGETリクエストを実行し、レスポンスボディを返す。
// HTTPエラーはStatusErrorとして返し、リトライ分類に使用される。
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	reqURL.RawQuery = params.Encode()

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
			Message:    "AppView APIがエラーを返しました",
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return body, nil
}

// GetAuthorFeed はアクターのフィードを1ページ分取得する。
// requestingDIDはどのオーナーの分析として取得しているかをログに残すために受け取る。
// cursorが空の場合は先頭ページを取得する。
func (c *Client) GetAuthorFeed(ctx context.Context, requestingDID, actorDID string, limit int, cursor string) (*FeedPage, error) {
	params := url.Values{}
	params.Set("actor", actorDID)
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	body, err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "/xrpc/app.bsky.feed.getAuthorFeed", params)
	})
	if err != nil {
		c.logger.Error("フィードの取得に失敗しました",
			slog.String("requesting_did", requestingDID),
			slog.String("actor_did", actorDID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var result struct {
		Feed   []feedItem `json:"feed"`
		Cursor string     `json:"cursor,omitempty"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("フィードレスポンスのパースに失敗しました: %w", err)
	}

	page := &FeedPage{Cursor: result.Cursor}
	for _, item := range result.Feed {
		page.Posts = append(page.Posts, item.Post)
	}

	return page, nil
}

// GetProfile はアクターのプロフィールを取得する。
func (c *Client) GetProfile(ctx context.Context, requestingDID, actorDID string) (*Profile, error) {
	params := url.Values{}
	params.Set("actor", actorDID)

	body, err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "/xrpc/app.bsky.actor.getProfile", params)
	})
	if err != nil {
		c.logger.Error("プロフィールの取得に失敗しました",
			slog.String("requesting_did", requestingDID),
			slog.String("actor_did", actorDID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("プロフィールレスポンスのパースに失敗しました: %w", err)
	}

	return &profile, nil
}
