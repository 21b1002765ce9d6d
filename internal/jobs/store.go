package jobs

import (
	"sync"
	"time"
)

// Store はセッション内のジョブを投入順に保持します。
// すべての操作はロック内で完結し、途中の状態が外から見えることはありません。
type Store struct {
	mu        sync.RWMutex
	jobs      map[int64]*Job
	order     []int64
	nextID    int64
	lastEpoch uint64
	version   uint64
	now       func() time.Time
}

// NewStore は空の Store を作成します。
func NewStore() *Store {
	return &Store{
		jobs:   make(map[int64]*Job),
		nextID: 1,
		now:    time.Now,
	}
}

// Create は running 状態のジョブを追加し、そのコピーを返します。
func (s *Store) Create(source Source, params Parameters) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	job := &Job{
		ID:        s.nextID,
		Source:    source,
		Params:    params,
		Status:    StatusRunning,
		Epoch:     s.newEpochLocked(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.version++
	return job.clone()
}

// Update は mutate が true を返した場合のみ変更を確定します。
// 対象が既に削除されている場合は何もせず false を返します。
func (s *Store) Update(id int64, mutate func(*Job) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if !s.applyLocked(job, mutate) {
		return false
	}
	s.version++
	return true
}

// Restart はジョブを running に戻し、新しい Epoch を割り当てます。
// prepare がエラーを返した場合は何も変更しません。
func (s *Store) Restart(id int64, prepare func(*Job) error) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, errJobNotFound(id)
	}

	var prepErr error
	s.applyLocked(job, func(draft *Job) bool {
		if prepare != nil {
			if prepErr = prepare(draft); prepErr != nil {
				return false
			}
		}
		s.rearmLocked(draft)
		return true
	})
	if prepErr != nil {
		return Job{}, prepErr
	}
	s.version++
	return job.clone(), nil
}

// RestartMatching は eligible を満たすすべてのジョブを1回の更新でまとめて running に戻し、
// 変更後のコピーを投入順で返します。
func (s *Store) RestartMatching(eligible func(Job) bool, prepare func(*Job)) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	restarted := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		job := s.jobs[id]
		if !eligible(job.clone()) {
			continue
		}
		s.applyLocked(job, func(draft *Job) bool {
			if prepare != nil {
				prepare(draft)
			}
			s.rearmLocked(draft)
			return true
		})
		restarted = append(restarted, job.clone())
	}
	if len(restarted) > 0 {
		s.version++
	}
	return restarted
}

// Remove はジョブを取り除き、取り除いた値を返します。
func (s *Store) Remove(id int64) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	delete(s.jobs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version++
	return job.clone(), true
}

// Get はジョブのコピーを返します。
func (s *Store) Get(id int64) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// All は投入順のジョブ一覧を返します。
func (s *Store) All() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].clone())
	}
	return out
}

// Reset はすべてのジョブを取り除き、ID の採番を初期値に戻します。
// Epoch は戻さないため、消去前に投入された実行の完了が新しいジョブに適用されることはありません。
func (s *Store) Reset() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		removed = append(removed, s.jobs[id].clone())
	}
	s.jobs = make(map[int64]*Job)
	s.order = nil
	s.nextID = 1
	s.version++
	return removed
}

// Version は変更の度に増える通番です。画面側の再描画判定に使います。
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len はジョブ数を返します。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// applyLocked は下書きに対して mutate を実行し、成功時のみ本体へ反映します。
// ID・元画像・作成日時は mutate から変更できません。
func (s *Store) applyLocked(job *Job, mutate func(*Job) bool) bool {
	draft := job.clone()
	if !mutate(&draft) {
		return false
	}
	draft.ID = job.ID
	draft.Source = job.Source
	draft.CreatedAt = job.CreatedAt
	draft.UpdatedAt = s.now().UTC()
	*job = draft
	return true
}

func (s *Store) rearmLocked(job *Job) {
	job.Status = StatusRunning
	job.Error = ""
	job.Epoch = s.newEpochLocked()
}

func (s *Store) newEpochLocked() uint64 {
	s.lastEpoch++
	return s.lastEpoch
}
