package middlewarectx

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/regexgpt/regexgpt/internal/http/response"
)

const idleLimiterTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle ограничитель частоты запросов: token bucket на пользователя,
// для анонимных запросов ключом служит адрес клиента.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	now      func() time.Time
}

// NewThrottle создаёт Throttle. rps <= 0 отключает ограничение.
func NewThrottle(rps float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow сообщает, можно ли пропустить запрос с ключом key.
func (t *Throttle) Allow(key string) bool {
	if t.rps <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := t.visitors[key]
	if !ok {
		t.prune(now)
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// prune удаляет давно неактивных посетителей. Вызывается под мьютексом.
func (t *Throttle) prune(now time.Time) {
	for key, v := range t.visitors {
		if now.Sub(v.lastSeen) > idleLimiterTTL {
			delete(t.visitors, key)
		}
	}
}

// Middleware возвращает HTTP middleware, отвечающий 429 при превышении частоты.
func (t *Throttle) Middleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserIDFromContext(r.Context())
			if key == "" {
				key = clientIP(r)
			}
			if !t.Allow(key) {
				log.Warn("too many requests",
					slog.String("op", "middlewarectx.Throttle"),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("key", key),
				)
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
