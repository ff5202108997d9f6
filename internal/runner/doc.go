// Package runner は1回のシナリオ実行を進めるステートマシンを提供する。
//
// Runnerはセッション状態（現在のステップ、得点、重大失敗数、結果列）を
// 唯一の正として所有する。UIやAPIはState()とイベントバスを読むだけで、
// 独自の状態を持たない。
//
// # 遷移
//
//	NotStarted --Start()--> Running
//	Running --SubmitAction()|OnTimeout() [残りあり]--> Running
//	Running --SubmitAction()|OnTimeout() [最終ステップ]--> Completed
//
// Completedは終端で、再実行には新しいRunnerを作る。
// 重大ステップの失敗はカウントされるだけで、実行は止まらない。
//
// # タイマー
//
// 制限時間付きのステップが現在になると1つのタイマーを予約し、
// 解決時に取り消す。タイマーと操作がほぼ同時に来た場合は先に
// ロックを取った方だけが解決し、もう一方は何もしない。
//
// # 使用例
//
//	steps, _ := cat.GetSteps(ctx, "quick")
//	r := runner.New(sessionID, steps,
//	    runner.WithRecorder(rec),
//	    runner.WithEventBus(bus),
//	)
//	objective, err := r.Start()
//	out, err := r.SubmitAction(scenario.ActionBreakerOpen, "")
package runner
