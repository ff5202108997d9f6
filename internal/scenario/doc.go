// Package scenario は訓練シナリオのデータモデルを提供する。
//
// シナリオは順序付きのステップ列で、各ステップはオペレーターに要求する
// 操作種別、期待値（任意）、得点、重要度、制限時間を持つ。
// ステップはカタログから読み込まれた後は変更されない。
//
// # 機能
//
// - シナリオ定義と検証
// - 操作種別の表示名テーブル
// - 定義済みプリセットシナリオ
// - DOT形式のステップグラフ出力
//
// # プリセットシナリオ
//
// - quick: 2ステップの動作確認
// - breaker-isolation: 故障区間の遮断と接地
// - voltage-regulation: バス電圧逸脱への対応
// - feeder-restoration: 送電再開
//
// # 使用例
//
//	sc, ok := scenario.GetPreset("breaker-isolation")
//	if !ok {
//	    log.Fatal("unknown preset")
//	}
//	dot, err := scenario.Graph(sc, scenario.DefaultLabels())
package scenario
