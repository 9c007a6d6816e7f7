package reconciler

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	goredis "github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("reconcile pass already running elsewhere")

// KeyStore is the part of the redis adapter the run lock needs.
type KeyStore interface {
	Set(key string, value []byte, ttl time.Duration) error
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Get(key string) ([]byte, error)
	CompareAndDelete(key string, expected []byte) (bool, error)
}

type RunLockConfig struct {
	// LockTTL bounds how long a crashed instance can block a pass.
	LockTTL time.Duration

	LastRunTTL time.Duration

	LockKeyPrefix string

	LastRunKeyPrefix string
}

func DefaultRunLockConfig() RunLockConfig {
	return RunLockConfig{
		LockTTL:          10 * time.Minute,
		LastRunTTL:       7 * 24 * time.Hour,
		LockKeyPrefix:    "reconcile:lock:",
		LastRunKeyPrefix: "reconcile:last:",
	}
}

// RunLock keeps several reconciler instances from running the same pass at
// once. Each holder writes its own token, so an instance whose lock expired
// cannot release the lock a newer holder took.
type RunLock struct {
	store  KeyStore
	config RunLockConfig
}

func NewRunLock(store KeyStore, config RunLockConfig) *RunLock {
	return &RunLock{
		store:  store,
		config: config,
	}
}

type Lease struct {
	Pass  string
	token []byte
	lock  *RunLock
}

func (l *RunLock) Acquire(pass string) (*Lease, error) {
	token := []byte(uuid.NewString())

	acquired, err := l.store.SetNX(l.config.LockKeyPrefix+pass, token, l.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", pass, err)
	}
	if !acquired {
		logger.Info("Reconcile lock held by another instance", "pass", pass)
		return nil, ErrLockHeld
	}

	logger.Debug("Reconcile lock acquired", "pass", pass, "lock_ttl", l.config.LockTTL)
	return &Lease{Pass: pass, token: token, lock: l}, nil
}

// Release gives the lock back if this lease still owns it.
func (s *Lease) Release() error {
	if s == nil || s.token == nil {
		return nil
	}
	released, err := s.lock.store.CompareAndDelete(s.lock.config.LockKeyPrefix+s.Pass, s.token)
	if err != nil {
		logger.Warn("Failed to release reconcile lock", "pass", s.Pass, "error", err)
		return err
	}
	if !released {
		logger.Warn("Reconcile lock expired before release", "pass", s.Pass)
	}
	s.token = nil
	return nil
}

// MarkDone stores when the pass last finished.
func (s *Lease) MarkDone(at time.Time) error {
	value := []byte(strconv.FormatInt(at.UnixNano(), 10))
	if err := s.lock.store.Set(s.lock.config.LastRunKeyPrefix+s.Pass, value, s.lock.config.LastRunTTL); err != nil {
		return fmt.Errorf("mark %s done: %w", s.Pass, err)
	}
	return nil
}

// LastRun returns when pass last finished on any instance, zero if never.
func (l *RunLock) LastRun(pass string) (time.Time, error) {
	raw, err := l.store.Get(l.config.LastRunKeyPrefix + pass)
	if errors.Is(err, goredis.Nil) || (err == nil && len(raw) == 0) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ns, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last run of %s: %w", pass, err)
	}
	return time.Unix(0, ns).UTC(), nil
}
