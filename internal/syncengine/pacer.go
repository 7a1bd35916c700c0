package syncengine

import (
	"sync"
	"time"

	"github.com/lemonforest/biphase/common"
)

// BeaconPacer governs the Leader's adaptive beacon-send interval
// (spec.md §4.2 "Beacon-send pacing"). It widens the interval after a
// streak of low-error feedback and snaps back to the minimum on any poor
// sample or mode change.
type BeaconPacer struct {
	mu          sync.Mutex
	interval    time.Duration
	lastSendUs  int64
	hasLastSend bool
	goodStreak  int
}

// NewBeaconPacer starts at the minimum interval, as on boot.
func NewBeaconPacer() *BeaconPacer {
	return &BeaconPacer{interval: common.MinBeaconInterval}
}

// Due reports whether enough time has elapsed since the last send to emit
// another beacon.
func (p *BeaconPacer) Due(nowUs int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasLastSend {
		return true
	}
	elapsed := time.Duration(nowUs-p.lastSendUs) * time.Microsecond
	return elapsed >= p.interval
}

// RecordSent marks nowUs as the last-send time.
func (p *BeaconPacer) RecordSent(nowUs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSendUs = nowUs
	p.hasLastSend = true
}

// RecordFeedback folds in one ActivationReport's measured error, chosen as
// the quality signal that drives pacing (spec.md §9 open question:
// "prediction accuracy" over raw offset magnitude).
func (p *BeaconPacer) RecordFeedback(errorMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	errDur := time.Duration(errorMs * float64(time.Millisecond))
	switch {
	case errDur > common.PoorPredictionError:
		p.interval = common.MinBeaconInterval
		p.goodStreak = 0
	case errDur < common.GoodPredictionError:
		p.goodStreak++
		if p.goodStreak >= common.GoodStreakLength {
			p.interval *= 2
			if p.interval > common.MaxBeaconInterval {
				p.interval = common.MaxBeaconInterval
			}
			p.goodStreak = 0
		}
	default:
		p.goodStreak = 0
	}
}

// ResetToMinimum forces the interval back down, on a mode change or a
// detected drift episode.
func (p *BeaconPacer) ResetToMinimum() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = common.MinBeaconInterval
	p.goodStreak = 0
}

// Interval returns the current adaptive interval.
func (p *BeaconPacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}
