package api

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// 추적하는 사용자 limiter 최대 개수입니다. 오래 쓰지 않은 사용자부터 버립니다.
const maxTrackedUsers = 10000

// userLimiter는 사용자별 token bucket입니다.
type userLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	users *lru.Cache[string, *rate.Limiter]
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	users, _ := lru.New[string, *rate.Limiter](maxTrackedUsers)
	return &userLimiter{limit: rate.Limit(perSecond), burst: burst, users: users}
}

// Allow는 userID의 요청 하나를 허용할지 반환합니다.
func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.users.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.users.Add(userID, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}
