package failover

import (
	"sync"
	"time"
)

type CooldownConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier int
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 4,
	}
}

type cooldownState struct {
	errorCount int
	until      time.Time
}

// CooldownTracker benches inference providers after rate-limit or auth
// failures, backing off exponentially on repeated errors.
type CooldownTracker struct {
	config CooldownConfig

	mu     sync.Mutex
	states map[string]*cooldownState
}

func NewCooldownTracker(cfg CooldownConfig) *CooldownTracker {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &CooldownTracker{config: cfg, states: make(map[string]*cooldownState)}
}

func (ct *CooldownTracker) PutInCooldown(providerID string, now time.Time) time.Time {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	s, ok := ct.states[providerID]
	if !ok {
		s = &cooldownState{}
		ct.states[providerID] = s
	}
	s.errorCount++
	s.until = now.Add(ct.calculateDuration(s.errorCount))
	return s.until
}

func (ct *CooldownTracker) InCooldown(providerID string, now time.Time) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	s, ok := ct.states[providerID]
	return ok && now.Before(s.until)
}

func (ct *CooldownTracker) Reset(providerID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.states, providerID)
}

func (ct *CooldownTracker) calculateDuration(errorCount int) time.Duration {
	d := ct.config.Initial
	for i := 1; i < errorCount; i++ {
		d *= time.Duration(ct.config.Multiplier)
		if d > ct.config.Max {
			return ct.config.Max
		}
	}
	return d
}
