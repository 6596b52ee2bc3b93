package analysis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/musicjunkieg/ideal-telegram/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreResults_集計スコアは閾値超過ポストの最大スコアの平均となる(t *testing.T) {
	deps := newTestDeps()
	p := newTestPipeline(deps)

	candidates := []*model.CandidatePost{
		{URI: "at://did:plc:a/app.bsky.feed.post/1", Text: "p1", AuthorDID: "did:plc:a", InteractionType: model.InteractionReply},
		{URI: "at://did:plc:a/app.bsky.feed.post/2", Text: "p2", AuthorDID: "did:plc:a", InteractionType: model.InteractionQuote},
		{URI: "at://did:plc:a/app.bsky.feed.post/3", Text: "p3", AuthorDID: "did:plc:a", InteractionType: model.InteractionReply},
	}
	scores := []model.ToxicityScores{
		{Toxic: 0.8},
		{Insult: 1.0},
		{Toxic: 0.2}, // 閾値未満のため集計に含まれない
	}

	flaggedCount, evidenceCount, err := p.storeResults(context.Background(), testLogger(), testOwnerDID, candidates, scores, 0.7)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if flaggedCount != 1 {
		t.Errorf("flaggedCount = %d, want 1", flaggedCount)
	}
	if evidenceCount != 2 {
		t.Errorf("evidenceCount = %d, want 2", evidenceCount)
	}

	if len(deps.flagged.created) != 1 {
		t.Fatalf("作成されたフラグ済みユーザー数 = %d, want 1", len(deps.flagged.created))
	}
	created := deps.flagged.created[0]
	if got, want := created.AggregateToxicityScore, (0.8+1.0)/2; got != want {
		t.Errorf("AggregateToxicityScore = %f, want %f", got, want)
	}
	if created.ToxicPostCount != 2 {
		t.Errorf("ToxicPostCount = %d, want 2", created.ToxicPostCount)
	}
}

func TestStoreResults_同一実行内で同じURIの証拠は1件のみ挿入される(t *testing.T) {
	deps := newTestDeps()
	p := newTestPipeline(deps)

	// 同じポストがリプライと引用の両方の候補として現れるケース
	uri := "at://did:plc:a/app.bsky.feed.post/1"
	candidates := []*model.CandidatePost{
		{URI: uri, Text: "both", AuthorDID: "did:plc:a", InteractionType: model.InteractionReply},
		{URI: uri, Text: "both", AuthorDID: "did:plc:a", InteractionType: model.InteractionQuote},
	}
	scores := []model.ToxicityScores{
		{Toxic: 0.9},
		{Toxic: 0.9},
	}

	_, evidenceCount, err := p.storeResults(context.Background(), testLogger(), testOwnerDID, candidates, scores, 0.7)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if evidenceCount != 1 {
		t.Errorf("evidenceCount = %d, want 1", evidenceCount)
	}
	if len(deps.evidence.created) != 1 {
		t.Errorf("作成された証拠数 = %d, want 1", len(deps.evidence.created))
	}
}

func TestStoreResults_証拠テキストはサニタイズして保存される(t *testing.T) {
	deps := newTestDeps()
	p := newTestPipeline(deps)

	candidates := []*model.CandidatePost{
		{URI: "at://did:plc:a/app.bsky.feed.post/1", Text: `<script>alert(1)</script>危険なテキスト`, AuthorDID: "did:plc:a", InteractionType: model.InteractionReply},
	}
	scores := []model.ToxicityScores{{Threat: 0.95}}

	_, _, err := p.storeResults(context.Background(), testLogger(), testOwnerDID, candidates, scores, 0.7)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(deps.evidence.created) != 1 {
		t.Fatalf("作成された証拠数 = %d, want 1", len(deps.evidence.created))
	}
	evidence := deps.evidence.created[0]
	if evidence.PostText != "危険なテキスト" {
		t.Errorf("PostText = %q, マークアップが除去されていません", evidence.PostText)
	}
	if evidence.PrimaryCategory != "threat" {
		t.Errorf("PrimaryCategory = %s, want threat", evidence.PrimaryCategory)
	}
}

func TestStoreResults_作者ごとに独立してフラグ判定される(t *testing.T) {
	deps := newTestDeps()
	p := newTestPipeline(deps)

	candidates := []*model.CandidatePost{
		{URI: "at://did:plc:a/app.bsky.feed.post/1", Text: "a1", AuthorDID: "did:plc:a", InteractionType: model.InteractionReply},
		{URI: "at://did:plc:b/app.bsky.feed.post/1", Text: "b1", AuthorDID: "did:plc:b", InteractionType: model.InteractionReply},
	}
	scores := []model.ToxicityScores{
		{Toxic: 0.9},
		{Toxic: 0.1},
	}

	flaggedCount, _, err := p.storeResults(context.Background(), testLogger(), testOwnerDID, candidates, scores, 0.7)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if flaggedCount != 1 {
		t.Errorf("flaggedCount = %d, want 1", flaggedCount)
	}
	if len(deps.flagged.created) != 1 || deps.flagged.created[0].FlaggedDID != "did:plc:a" {
		t.Errorf("did:plc:aのみがフラグされるべきです: %+v", deps.flagged.created)
	}
}
