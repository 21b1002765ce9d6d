package auth

import (
	"sync"
	"time"
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// loginLimiter は IP 毎のログイン失敗回数を数え、上限に達したら一定時間ロックします。
type loginLimiter struct {
	lock        sync.Mutex
	attempts    map[string]*attemptState
	window      time.Duration
	lockFor     time.Duration
	maxAttempts int
	now         func() time.Time
}

func newLoginLimiter(now func() time.Time) *loginLimiter {
	return &loginLimiter{
		attempts:    make(map[string]*attemptState),
		window:      loginWindow,
		lockFor:     lockDuration,
		maxAttempts: maxLoginAttempts,
		now:         now,
	}
}

// check はロック中であれば残り時間を返します。
func (l *loginLimiter) check(ip string) time.Duration {
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[ip]
	if !ok {
		return 0
	}
	now := l.now()
	if !now.Before(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// recordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (l *loginLimiter) recordFailure(ip string) int {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	state, ok := l.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > l.window {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= l.maxAttempts {
		state.lockedUntil = now.Add(l.lockFor)
		state.count = l.maxAttempts
	}

	remaining := l.maxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (l *loginLimiter) reset(ip string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, ip)
}
