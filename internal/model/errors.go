package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTPハンドラがレスポンスに変換するエラーコードとメッセージを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, analysis, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDID     = "INVALID_DID"
	ErrCodeAnalysisFailed = "ANALYSIS_FAILED"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
)

// NewInvalidDIDError は無効なDIDエラーを生成する。
func NewInvalidDIDError(did string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDID,
		Message:  fmt.Sprintf("無効なDIDです: %s", did),
		Category: "validation",
	}
}

// NewAnalysisFailedError は分析実行失敗エラーを生成する。
func NewAnalysisFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAnalysisFailed,
		Message:  fmt.Sprintf("履歴分析の実行に失敗しました: %s", reason),
		Category: "analysis",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(did string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", did),
		Category: "validation",
	}
}
