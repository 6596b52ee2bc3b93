package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/musicjunkieg/ideal-telegram/internal/analysis"
	"github.com/musicjunkieg/ideal-telegram/internal/middleware"
	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

// AnalysisRunner は分析ハンドラーが必要とするパイプライン実行のインターフェース。
type AnalysisRunner interface {
	// Run はオーナー1人分の履歴毒性分析を実行する。
	Run(ctx context.Context, ownerDID string, opts analysis.Options) (*analysis.Result, error)
}

// AnalysisHandler は履歴分析実行のHTTPハンドラー。
type AnalysisHandler struct {
	runner AnalysisRunner
}

// NewAnalysisHandler はAnalysisHandlerを生成する。
func NewAnalysisHandler(runner AnalysisRunner) *AnalysisHandler {
	return &AnalysisHandler{runner: runner}
}

// runAnalysisRequest は分析実行リクエストのボディ。
type runAnalysisRequest struct {
	DID      string `json:"did"`
	MaxPosts int    `json:"max_posts,omitempty"`
	FullScan bool   `json:"full_scan,omitempty"`
}

// RunAnalysis は履歴毒性分析を同期実行し、結果サマリを返す。
// POST /api/analysis/run
func (h *AnalysisHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	var req runAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
		})
		return
	}

	if !isValidDID(req.DID) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDIDError(req.DID))
		return
	}
	if req.MaxPosts < 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "max_postsは0以上である必要があります。",
			Category: "validation",
		})
		return
	}

	result, err := h.runner.Run(r.Context(), req.DID, analysis.Options{
		MaxPosts: req.MaxPosts,
		FullScan: req.FullScan,
	})
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewAnalysisFailedError(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// isValidDID はDIDの形式を検証する。
// did:<method>:<identifier> の3要素が全て非空であること。
func isValidDID(did string) bool {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 {
		return false
	}
	return parts[0] == "did" && parts[1] != "" && parts[2] != ""
}
