package model

// Interactor はオーナーのポストにインタラクションしたアクターを表す。
// 1回の探索パスにつきDIDごとに1件生成され、Typesは全ポストを通じて
// 観測されたインタラクション種類の集合となる。
type Interactor struct {
	DID   string
	Types []InteractionType
}

// HasType は指定のインタラクション種類を持つかを返す。
func (i *Interactor) HasType(t InteractionType) bool {
	for _, it := range i.Types {
		if it == t {
			return true
		}
	}
	return false
}

// HasAnalyzableInteraction はテキストを持つインタラクション
// （リプライまたは引用）を少なくとも1つ持つかを返す。
// いいねのみのインタラクターは分析対象から除外される。
func (i *Interactor) HasAnalyzableInteraction() bool {
	return i.HasType(InteractionReply) || i.HasType(InteractionQuote)
}
