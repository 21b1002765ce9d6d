package jobs

import "testing"

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Summary
	}{
		{
			name: "empty",
			want: Summary{CanApplyToAll: true, CanClearAll: true},
		},
		{
			name:     "running blocks bulk actions",
			statuses: []Status{StatusRunning, StatusDone},
			want:     Summary{Total: 2, RunningCount: 1, DoneCount: 1, AnyRunning: true, AnyDone: true},
		},
		{
			name:     "done and failed",
			statuses: []Status{StatusDone, StatusFailed, StatusDone},
			want: Summary{
				Total: 3, DoneCount: 2, FailedCount: 1, AnyDone: true,
				CanExport: true, CanApplyToAll: true, CanClearAll: true,
			},
		},
		{
			name:     "only failed",
			statuses: []Status{StatusFailed},
			want:     Summary{Total: 1, FailedCount: 1, CanApplyToAll: true, CanClearAll: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := make([]Job, len(tt.statuses))
			for i, s := range tt.statuses {
				jobs[i] = Job{ID: int64(i + 1), Status: s}
			}
			if got := Summarize(jobs); got != tt.want {
				t.Fatalf("Summarize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
