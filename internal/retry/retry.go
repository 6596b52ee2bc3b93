// Package retry は外部API呼び出しの指数バックオフ付きリトライ機能を提供する。
// レート制限（429）、サーバーエラー（5xx）、ネットワーク障害を一時的エラーとして
// リトライし、それ以外のエラーは即座に呼び出し元へ返す。
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// DefaultMaxRetries はデフォルトの最大リトライ回数（初回実行を除く）。
	DefaultMaxRetries = 3
	// DefaultBaseDelay は指数バックオフの初回遅延。
	// 100ms、200ms、400ms と2倍ずつ増加する（ジッターなし）。
	DefaultBaseDelay = 100 * time.Millisecond
)

// StatusError はHTTPステータスコードを保持するエラー。
// リトライ可否の分類に使用され、呼び出し元がステータスを検査できる。
type StatusError struct {
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTPステータス %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTPステータス %d", e.StatusCode)
}

// IsRetryable はエラーが一時的（リトライ可能）かを判定する。
// 判定規則:
//   - StatusError: 429（レート制限）または5xx（サーバーエラー）のみリトライ可能。
//     それ以外の4xxは終端エラー。
//   - ネットワークエラー（net.Error、タイムアウト含む）: リトライ可能。
//   - その他（レスポンス形式違反など）: 終端エラー。
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 ||
			(statusErr.StatusCode >= 500 && statusErr.StatusCode < 600)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// バッチタイムアウトによるコンテキスト期限切れもネットワーク障害と同様に扱う
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// Config はリトライ動作の設定を保持する。
type Config struct {
	// MaxRetries は最大リトライ回数（初回実行を除く）。
	MaxRetries int
	// BaseDelay は指数バックオフの初回遅延。リトライごとに2倍になる。
	BaseDelay time.Duration
}

// DefaultConfig はデフォルトのリトライ設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
	}
}

// Do は操作をリトライ付きで実行する。
// 一時的エラーの場合は指数バックオフで待機して再実行し、
// 終端エラーの場合は即座に失敗する。
// リトライ上限に達した場合は最後のエラーをラップせずそのまま返す
// （呼び出し元がステータスや種類を検査できるようにするため）。
// 操作は複数回実行され得るため、副作用の冪等性は呼び出し元の責任となる。
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// 終端エラー、またはリトライ上限に達した場合はそのまま返す
		if !IsRetryable(err) || attempt == cfg.MaxRetries {
			return zero, err
		}

		// 指数バックオフ: 100ms, 200ms, 400ms, ...
		delay := cfg.BaseDelay << attempt

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
