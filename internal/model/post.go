// Package model はドメインモデルを定義する。
package model

// Post はアクターが投稿したテキスト付きポストを表す。
// フェッチ後は不変であり、パイプラインのメモリ上にのみ存在する。
type Post struct {
	URI       string
	Text      string
	AuthorDID string
}

// InteractionType はポストへのインタラクションの種類を表す。
type InteractionType string

const (
	// InteractionReply はリプライによるインタラクション。
	InteractionReply InteractionType = "reply"
	// InteractionQuote は引用によるインタラクション。
	InteractionQuote InteractionType = "quote"
	// InteractionLike はいいねによるインタラクション。
	// テキストを持たないため分析対象のポストは生成されない。
	InteractionLike InteractionType = "like"
)

// CandidatePost は分析対象となるインタラクターのポストを表す。
// オーナーのポストへのリプライまたは引用のみが対象となる。
type CandidatePost struct {
	URI             string
	Text            string
	AuthorDID       string
	InteractionType InteractionType
}
