package server

import (
	"crypto/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/erictom97/gender-age/logger"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

const RequestIDHeader = "X-Request-ID"

func newRequestID(t time.Time) string {
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// requestIDMiddleware reuses the caller's X-Request-ID or mints a ULID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = newRequestID(time.Now())
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), requestID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.size += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		fields := logger.Fields{
			logger.RequestIDKey: logger.RequestID(r.Context()),
			"method":            r.Method,
			"path":              r.URL.Path,
			"status":            rec.status,
			"latency_ms":        time.Since(start).Milliseconds(),
			"ip":                clientIP(r),
			"user_agent":        r.UserAgent(),
			"response_size":     rec.size,
		}

		switch {
		case rec.status >= 500:
			logger.Error(fields, "Server error")
		case rec.status >= 400:
			logger.Warn(fields, "Client error")
		default:
			logger.Info(fields, "Success")
		}
	})
}

type rateLimiter struct {
	bucket    map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
	mutex     sync.Mutex
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*rate.Limiter),
		rate:      reqRate,
		burstSize: burstSize,
	}
}

func (l *rateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	limiter, ok := l.bucket[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burstSize)
		l.bucket[ip] = limiter
	}
	return limiter
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.limiterFor(ip).Allow() {
			sendError(w, r, ErrTooManyRequests, "rate limit")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
