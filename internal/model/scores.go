package model

// ToxicityScores は毒性スコアリングサービスが返す6カテゴリのスコアを表す。
// 各スコアは[0,1]の範囲の値を取る。
// JSONタグはスコアリングサービスのレスポンス形式およびDBのjsonbカラムと共通。
type ToxicityScores struct {
	Toxic          float64 `json:"toxic"`
	SevereToxic    float64 `json:"severe_toxic"`
	Obscene        float64 `json:"obscene"`
	Threat         float64 `json:"threat"`
	Insult         float64 `json:"insult"`
	IdentityAttack float64 `json:"identity_attack"`
}
