// Package toxicity は毒性スコアリングサービス連携機能を提供する。
// テキストを固定サイズのバッチに分割してスコアリングサービスへ送信し、
// 6カテゴリの毒性スコアを入力と同じ順序で返す。
package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
	"github.com/musicjunkieg/ideal-telegram/internal/retry"
)

const (
	// DefaultBatchSize は1回のスコアリングリクエストあたりのテキスト数。
	DefaultBatchSize = 50
	// DefaultBatchTimeout はバッチリクエスト1回あたりのハードタイムアウト。
	DefaultBatchTimeout = 30 * time.Second
)

// Categories は毒性カテゴリの宣言順リスト。
// PrimaryCategoryの同値タイブレークはこの順序で決定される。
var Categories = []string{
	"toxic",
	"severe_toxic",
	"obscene",
	"threat",
	"insult",
	"identity_attack",
}

// categoryValues はスコアをカテゴリ宣言順の値リストに展開する。
func categoryValues(s model.ToxicityScores) []float64 {
	return []float64{
		s.Toxic,
		s.SevereToxic,
		s.Obscene,
		s.Threat,
		s.Insult,
		s.IdentityAttack,
	}
}

// PrimaryCategory は最大スコアのカテゴリ名を返す。
// 同値の場合はカテゴリ宣言順で最初に出現したものが優先される。
func PrimaryCategory(s model.ToxicityScores) string {
	values := categoryValues(s)
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	return Categories[maxIdx]
}

// MaxScore は全カテゴリの最大スコア値を返す。
func MaxScore(s model.ToxicityScores) float64 {
	max := 0.0
	for _, v := range categoryValues(s) {
		if v > max {
			max = v
		}
	}
	return max
}

// CountMismatchError はスコアリングサービスの結果件数が入力件数と
// 一致しない契約違反を表す。リトライ不可の致命的エラーとして扱われる。
type CountMismatchError struct {
	Expected int
	Actual   int
}

// Error はerrorインターフェースを実装する。
func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("スコアリングサービスの結果件数が一致しません: got %d, want %d", e.Actual, e.Expected)
}

// analyzeResponse は/analyzeエンドポイントのレスポンスを表す。
type analyzeResponse struct {
	Results []model.ToxicityScores `json:"results"`
}

// healthResponse は/healthエンドポイントのレスポンスを表す。
type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Client は毒性スコアリングサービスのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	retryCfg     retry.Config
	batchSize    int
	batchTimeout time.Duration
	baseURL      string
}

// NewClient はClientの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値50、batchTimeoutが0以下の場合は30秒を使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, retryCfg retry.Config, batchSize int, batchTimeout time.Duration) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		retryCfg:     retryCfg,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		baseURL:      baseURL,
	}
}

// analyzeBatch は1バッチ分のテキストをスコアリングする。
// バッチごとにハードタイムアウトを適用し、結果件数の不一致は
// CountMismatchError（リトライ不可）として返す。
func (c *Client) analyzeBatch(ctx context.Context, texts []string) ([]model.ToxicityScores, error) {
	ctx, cancel := context.WithTimeout(ctx, c.batchTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string][]string{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{
			StatusCode: resp.StatusCode,
			Message:    "スコアリングサービスがエラーを返しました",
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result analyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	// 結果件数の検証: 不一致は契約違反でありリトライしても回復しない
	if len(result.Results) != len(texts) {
		return nil, &CountMismatchError{Expected: len(texts), Actual: len(result.Results)}
	}

	return result.Results, nil
}

// Analyze はテキストリストを毒性スコアリングする。
// バッチサイズごとに分割し、1バッチずつ順次リクエストを送信する。
// 各バッチはタイムアウトまたは一時的エラー時にリトライされる。
// 全バッチの結果を入力と同じ順序で連結して返す。
func (c *Client) Analyze(ctx context.Context, texts []string) ([]model.ToxicityScores, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	results := make([]model.ToxicityScores, 0, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		batchResults, err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) ([]model.ToxicityScores, error) {
			return c.analyzeBatch(ctx, batch)
		})
		if err != nil {
			c.logger.Error("スコアリングバッチの実行に失敗しました",
				slog.Int("batch_size", len(batch)),
				slog.Int("offset", i),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		results = append(results, batchResults...)
	}

	c.logger.Info("毒性スコアリングが完了しました",
		slog.Int("text_count", len(texts)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return results, nil
}

// Healthy はスコアリングサービスが稼働中かを返す。
// サービスに到達できない場合はエラーを返し、到達できたがモデルが
// ロードされていない場合は (false, nil) を返す。
// 死活監視専用であり、パイプライン実行中には使用されない。
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("ヘルスチェックリクエストの作成に失敗: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("ヘルスチェックリクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("ヘルスチェックがステータス %d を返却", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("ヘルスチェックレスポンスのデコードに失敗: %w", err)
	}

	return health.Status == "ok" && health.ModelLoaded, nil
}
