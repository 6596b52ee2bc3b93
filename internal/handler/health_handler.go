package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// DBPinger はデータベースの疎通確認のインターフェース。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// ScorerHealthChecker はスコアリングサービスの稼働確認のインターフェース。
// status == "ok" かつモデルロード済みの場合にtrueを返す。
type ScorerHealthChecker interface {
	Healthy(ctx context.Context) (bool, error)
}

// HealthHandler は稼働確認のHTTPハンドラー。
type HealthHandler struct {
	db     DBPinger
	scorer ScorerHealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db DBPinger, scorer ScorerHealthChecker) *HealthHandler {
	return &HealthHandler{db: db, scorer: scorer}
}

// healthResponse は/healthzレスポンスのボディ。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Scorer   string `json:"scorer"`
}

// Healthz はデータベースとスコアリングサービスの疎通を確認する。
// GET /healthz
// いずれかが不通の場合は503を返す。
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Scorer: "ok"}
	statusCode := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	if healthy, err := h.scorer.Healthy(ctx); err != nil {
		resp.Status = "degraded"
		resp.Scorer = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else if !healthy {
		resp.Status = "degraded"
		resp.Scorer = "model_not_loaded"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
