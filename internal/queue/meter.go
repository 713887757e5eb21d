package queue

import (
	"sync"
	"time"
)

const meterWindow = time.Second

// rateMeter is an EWMA-style rate estimator over fixed-width 1s buckets.
// Under a sustained steady input rate R, Rate() converges to within ±10% of
// R within 5 windows — the first window already reports the raw rate, and
// every window after blends it with the running estimate. Until the first
// non-idle window has been folded in, Rate() reports the in-progress
// window's count per window length, so a recorded event is visible at once.
type rateMeter struct {
	mu          sync.Mutex
	windowStart time.Time
	windowCount int64
	ewma        float64
	alpha       float64
	now         func() time.Time
}

func newRateMeter(now func() time.Time) *rateMeter {
	if now == nil {
		now = time.Now
	}
	return &rateMeter{alpha: 0.5, now: now, windowStart: now()}
}

// Record counts one event toward the current window.
func (m *rateMeter) Record() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(m.now())
	m.windowCount++
}

// Rate returns the current estimated events/sec.
func (m *rateMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(m.now())
	if m.ewma == 0 && m.windowCount > 0 {
		return float64(m.windowCount) / meterWindow.Seconds()
	}
	return m.ewma
}

// rolloverLocked advances the window(s) elapsed since windowStart, folding
// each completed window's raw rate into the EWMA. Idle windows decay the
// estimate toward zero rather than freezing it.
func (m *rateMeter) rolloverLocked(now time.Time) {
	elapsed := now.Sub(m.windowStart)
	if elapsed < meterWindow {
		return
	}
	windows := int64(elapsed / meterWindow)
	rate := float64(m.windowCount) / meterWindow.Seconds()
	if m.windowCount == 0 && m.ewma == 0 {
		// still idle, nothing to fold in
	} else if m.ewma == 0 {
		m.ewma = rate
	} else {
		m.ewma = m.alpha*rate + (1-m.alpha)*m.ewma
	}
	for i := int64(1); i < windows; i++ {
		// fully idle windows between the last event and now
		m.ewma = (1 - m.alpha) * m.ewma
	}
	m.windowCount = 0
	m.windowStart = m.windowStart.Add(time.Duration(windows) * meterWindow)
}
