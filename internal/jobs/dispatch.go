package jobs

import (
	"context"
	"sync"
)

// Task は1回分の実行依頼です。Scope は依頼元ワークスペースの識別子です。
type Task struct {
	Scope string `json:"scope"`
	JobID int64  `json:"jobId"`
	Epoch uint64 `json:"epoch"`
}

// Dispatcher は実行依頼を非同期に処理系へ渡します。完了を待ってはいけません。
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// GoDispatcher はプロセス内のゴルーチンで Runner を起動します。
// 同時に変換するのは limit 件までで、残りは空きが出るまで待機します。
// 取り消しは行わないため、実行には依頼元のコンテキストを引き継ぎません。
type GoDispatcher struct {
	runner *Runner
	slots  chan struct{}
	wg     sync.WaitGroup
}

// NewGoDispatcher は runner を呼び出す Dispatcher を作成します。limit が 0 以下の場合は1件ずつ実行します。
func NewGoDispatcher(runner *Runner, limit int) *GoDispatcher {
	if limit <= 0 {
		limit = 1
	}
	return &GoDispatcher{runner: runner, slots: make(chan struct{}, limit)}
}

// Dispatch は実行を予約してすぐに戻ります。
func (d *GoDispatcher) Dispatch(_ context.Context, task Task) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.slots <- struct{}{}
		defer func() { <-d.slots }()
		d.runner.Run(context.Background(), task.JobID, task.Epoch)
	}()
	return nil
}

// Wait は実行中のすべての依頼が終わるまで待ちます。
func (d *GoDispatcher) Wait() {
	d.wg.Wait()
}
