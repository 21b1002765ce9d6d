package jobs

// Summary はジョブ一覧から導出される集計値と、一括操作の可否です。
type Summary struct {
	Total         int  `json:"total"`
	RunningCount  int  `json:"runningCount"`
	DoneCount     int  `json:"doneCount"`
	FailedCount   int  `json:"failedCount"`
	AnyRunning    bool `json:"anyRunning"`
	AnyDone       bool `json:"anyDone"`
	CanExport     bool `json:"canExport"`
	CanApplyToAll bool `json:"canApplyToAll"`
	CanClearAll   bool `json:"canClearAll"`
}

// Summarize は毎回 jobs から集計し直します。結果はキャッシュしません。
func Summarize(jobs []Job) Summary {
	s := Summary{Total: len(jobs)}
	for _, job := range jobs {
		switch job.Status {
		case StatusRunning:
			s.RunningCount++
		case StatusDone:
			s.DoneCount++
		case StatusFailed:
			s.FailedCount++
		}
	}
	s.AnyRunning = s.RunningCount > 0
	s.AnyDone = s.DoneCount > 0
	s.CanExport = s.DoneCount > 0 && !s.AnyRunning
	s.CanApplyToAll = !s.AnyRunning
	s.CanClearAll = !s.AnyRunning
	return s
}
