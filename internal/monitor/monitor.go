// Package monitor polls the instruments' error queues while a run is in
// progress.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RMahshie/sigcal/internal/instrument"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the polling period used when none is configured
const DefaultInterval = 30 * time.Second

const errorQuery = "SYST:ERR?"

// Recorder receives what the monitor finds
type Recorder interface {
	LogWarning(msg string)
	LogError(ctx context.Context, msg string, cause error)
}

// Status is the last answer from each instrument
type Status struct {
	Timestamp time.Time
	Answers   map[string]string
}

// Monitor polls SYST:ERR? on both instruments. Non-empty queues become
// warnings, failed queries become errors.
type Monitor struct {
	pair     *instrument.Pair
	rec      Recorder
	interval time.Duration

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped monitor
func New(pair *instrument.Pair, rec Recorder, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{pair: pair, rec: rec, interval: interval}
}

// Start polls once right away and then every interval until Stop or until
// ctx is done. Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)

	log.Info().Dur("interval", m.interval).Msg("Instrument monitor started")
}

// Stop ends polling and waits for an in-flight poll to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Instrument monitor stopped")
}

// Status returns the most recent poll
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{Timestamp: m.status.Timestamp, Answers: make(map[string]string, len(m.status.Answers))}
	for k, v := range m.status.Answers {
		s.Answers[k] = v
	}
	return s
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	answers := make(map[string]string, 2)
	m.pair.ForEach(func(gw instrument.Gateway) {
		if ctx.Err() != nil {
			return
		}
		resp, err := gw.QueryString(ctx, errorQuery)
		if err != nil {
			if ctx.Err() != nil {
				return // stopping
			}
			m.rec.LogError(ctx, fmt.Sprintf("Monitor error: %v", err), err)
			return
		}
		answers[gw.Name()] = resp
		if !strings.Contains(resp, instrument.NoError) {
			m.rec.LogWarning(fmt.Sprintf("%s Error: %s", gw.Name(), resp))
		}
	})

	m.mu.Lock()
	m.status = Status{Timestamp: time.Now(), Answers: answers}
	m.mu.Unlock()
}
