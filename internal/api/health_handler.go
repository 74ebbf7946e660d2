package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailgun-dsr-connector/internal/pkg/httputil"
)

// ComponentCheck is the health of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is anything with a cheap reachability check, like *mailgun.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStater exposes a circuit breaker state. *mailgun.Client implements
// it and returns "" when no breaker is configured.
type BreakerStater interface {
	BreakerState() string
}

// HealthChecker probes Mailgun and the optional Redis and Postgres backends.
// Any dependency may be nil.
type HealthChecker struct {
	mailgun   Pinger
	redis     *redis.Client
	db        *sql.DB
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(mailgun Pinger, redisClient *redis.Client, db *sql.DB) *HealthChecker {
	return &HealthChecker{mailgun: mailgun, redis: redisClient, db: db, startTime: time.Now()}
}

// HandleReadiness returns 200 when Mailgun is reachable and every configured
// backend answers, 503 otherwise.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	ready := true
	for _, c := range checks {
		if c.Status == "down" {
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"uptime": time.Since(hc.startTime).Round(time.Second).String(),
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)

	go func() { ch <- result{"mailgun", hc.check(ctx, hc.mailgun, 5*time.Second)} }()
	go func() {
		var p Pinger
		if hc.redis != nil {
			p = redisPinger{hc.redis}
		}
		ch <- result{"redis", hc.check(ctx, p, 2*time.Second)}
	}()
	go func() {
		var p Pinger
		if hc.db != nil {
			p = dbPinger{hc.db}
		}
		ch <- result{"database", hc.check(ctx, p, 3*time.Second)}
	}()

	checks := make(map[string]ComponentCheck, 4)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	if b, ok := hc.mailgun.(BreakerStater); ok {
		if c, ok := breakerCheck(b.BreakerState()); ok {
			checks["mailgun_breaker"] = c
		}
	}
	return checks
}

// breakerCheck maps a breaker state onto a check. An open breaker fails
// readiness; half-open lets trial calls through and stays up.
func breakerCheck(state string) (ComponentCheck, bool) {
	switch state {
	case "":
		return ComponentCheck{}, false
	case "open":
		return ComponentCheck{Status: "down", Message: "circuit open"}, true
	default:
		return ComponentCheck{Status: "up", Message: state}, true
	}
}

func (hc *HealthChecker) check(ctx context.Context, p Pinger, timeout time.Duration) ComponentCheck {
	if p == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pingCtx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
