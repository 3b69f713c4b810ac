// Package auth implements login verification with brute-force lockout and
// the action capability gate.
package auth

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/utils/log"
)

// SessionCookie is the signed session cookie name shared by every
// session-authenticated surface.
const SessionCookie = "peerhub.sid"

// ErrInvalidCredentials is returned for any bad username/password pair. The
// message never distinguishes unknown users from wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// LockedError reports a lockout with the remaining wait.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter)
}

// Config defines Gate configuration.
type Config struct {
	BlockDuration  time.Duration `yaml:"block_duration"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	AttemptMaxIdle time.Duration `yaml:"attempt_max_idle"`
	GlobalCap      int           `yaml:"global_cap"`
}

func (c Config) applyDefaults() Config {
	if c.BlockDuration == 0 {
		c.BlockDuration = 15 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 15 * time.Minute
	}
	if c.AttemptMaxIdle == 0 {
		c.AttemptMaxIdle = 15 * time.Minute
	}
	if c.GlobalCap == 0 {
		c.GlobalCap = 50
	}
	return c
}

// AttemptStore persists per-IP failed login counters.
type AttemptStore interface {
	GetAttempt(ip string) (*core.FailedLoginAttempt, error)
	UpsertAttempt(a *core.FailedLoginAttempt) error
	DeleteAttempt(ip string) error
	SumAttemptCounts() (int, error)
	PruneAttempts(maxIdle time.Duration) (int64, error)
}

// UserSource resolves and migrates accounts during login.
type UserSource interface {
	GetUserByUsername(username string) (*core.User, error)
	SetPasswordHash(id int64, hash string) error
	RecordLogin(id int64, t time.Time) error
}

// Gate verifies logins. Failed attempts back off per IP on a growing delay
// schedule; sustained failure blocks the IP, and a global failure budget
// locks logins entirely under distributed brute force.
type Gate struct {
	config   Config
	users    UserSource
	attempts AttemptStore
	clk      clock.Clock
	stats    tally.Scope

	// Serializes the read-modify-write on attempt counters.
	mu sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
}

// NewGate creates a started Gate. Close releases its sweep loop.
func NewGate(
	config Config,
	users UserSource,
	attempts AttemptStore,
	clk clock.Clock,
	stats tally.Scope) *Gate {

	g := &Gate{
		config:   config.applyDefaults(),
		users:    users,
		attempts: attempts,
		clk:      clk,
		stats:    stats.Tagged(map[string]string{"module": "auth"}),
		done:     make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// Close stops the sweep loop.
func (g *Gate) Close() {
	g.stopOnce.Do(func() { close(g.done) })
}

// failureDelay returns the enforced wait after the nth consecutive failure,
// for n below the blocking threshold. The schedule runs
// 1, 2, 4, 7, 13, 23, 40, 69, 116 seconds.
func failureDelay(n int) time.Duration {
	secs := math.Ceil(float64(n) * math.Pow(1.5, float64(n-1)) * 0.5)
	return time.Duration(secs) * time.Second
}

// checkLockout returns a LockedError when ip must wait before another
// attempt. Counters idle past AttemptMaxIdle reset here on every check, so
// an IP returning after the idle window restarts the delay schedule instead
// of inheriting stale failures; the background sweep only covers IPs that
// never retry.
func (g *Gate) checkLockout(ip string) error {
	if _, err := g.attempts.PruneAttempts(g.config.AttemptMaxIdle); err != nil {
		return fmt.Errorf("prune attempts: %s", err)
	}
	sum, err := g.attempts.SumAttemptCounts()
	if err != nil {
		return fmt.Errorf("sum attempts: %s", err)
	}
	if sum >= g.config.GlobalCap {
		g.stats.Counter("global_lockout").Inc(1)
		return &LockedError{RetryAfter: g.config.BlockDuration}
	}
	a, err := g.attempts.GetAttempt(ip)
	if err != nil {
		return fmt.Errorf("get attempt: %s", err)
	}
	if a == nil {
		return nil
	}
	now := g.clk.Now()
	if a.BlockedUntil != nil && now.Before(*a.BlockedUntil) {
		return &LockedError{RetryAfter: a.BlockedUntil.Sub(now)}
	}
	if a.BlockedUntil == nil && a.Count > 0 {
		next := a.LastAttempt.Add(failureDelay(a.Count))
		if now.Before(next) {
			return &LockedError{RetryAfter: next.Sub(now)}
		}
	}
	return nil
}

// recordFailure bumps ip's counter; the tenth failure blocks the IP.
func (g *Gate) recordFailure(ip string) {
	now := g.clk.Now()
	a, err := g.attempts.GetAttempt(ip)
	if err != nil {
		log.Errorf("Get attempt: %s", err)
		return
	}
	if a == nil {
		a = &core.FailedLoginAttempt{IP: ip, FirstAttempt: now}
	}
	a.Count++
	a.LastAttempt = now
	if a.Count >= 10 {
		blockedUntil := now.Add(g.config.BlockDuration)
		a.BlockedUntil = &blockedUntil
	}
	if err := g.attempts.UpsertAttempt(a); err != nil {
		log.Errorf("Upsert attempt: %s", err)
	}
	g.stats.Counter("login_failure").Inc(1)
}

// Login verifies the credentials for a connection from ip. Legacy plaintext
// credentials migrate to bcrypt on success.
func (g *Gate) Login(ip, username, password string) (*core.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkLockout(ip); err != nil {
		return nil, err
	}

	u, err := g.users.GetUserByUsername(username)
	if err != nil {
		// Equalize timing with the password-verify path.
		VerifyPassword(_dummyHash, password)
		g.recordFailure(ip)
		return nil, ErrInvalidCredentials
	}
	ok, needsRehash := VerifyPassword(u.PasswordHash, password)
	if !ok || u.Disabled {
		g.recordFailure(ip)
		return nil, ErrInvalidCredentials
	}

	if needsRehash {
		if hash, err := HashPassword(password); err == nil {
			if err := g.users.SetPasswordHash(u.ID, hash); err != nil {
				log.With("user", u.Username).Errorf("Migrate password hash: %s", err)
			}
		}
	}
	if err := g.attempts.DeleteAttempt(ip); err != nil {
		log.Errorf("Clear attempts: %s", err)
	}
	if err := g.users.RecordLogin(u.ID, g.clk.Now()); err != nil {
		log.With("user", u.Username).Errorf("Record login: %s", err)
	}
	g.stats.Counter("login_success").Inc(1)
	return u, nil
}

// _dummyHash burns a bcrypt comparison when the username is unknown.
var _dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func (g *Gate) sweepLoop() {
	ticker := g.clk.Ticker(g.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			n, err := g.attempts.PruneAttempts(g.config.AttemptMaxIdle)
			if err != nil {
				log.Errorf("Prune attempts: %s", err)
				continue
			}
			if n > 0 {
				log.Infof("Pruned %d stale login attempt counters", n)
			}
		}
	}
}
