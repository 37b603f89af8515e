package world

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClockListener receives world tick events.
type ClockListener interface {
	OnTick(ctx context.Context, worldTime time.Time)
}

// WorldClock drives the simulation. Each tick delivers the current world
// time to every listener and then advances the clock by one step.
type WorldClock struct {
	step      time.Duration // simulated time per tick
	interval  time.Duration // real time between ticks
	listeners []ClockListener
	worldTime time.Time
	mu        sync.RWMutex
	tickMu    sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *zap.Logger
}

// NewWorldClock creates a clock starting at start.
func NewWorldClock(start time.Time, step, interval time.Duration, logger *zap.Logger) *WorldClock {
	return &WorldClock{
		step:      step,
		interval:  interval,
		worldTime: start,
		logger:    logger,
	}
}

// AddListener registers a tick listener.
func (c *WorldClock) AddListener(l ClockListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// WorldTime returns the current simulated world time.
func (c *WorldClock) WorldTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldTime
}

// Step runs one tick synchronously and returns the world time it ran at.
// Concurrent calls are serialized.
func (c *WorldClock) Step(ctx context.Context) time.Time {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.RLock()
	wt := c.worldTime
	listeners := make([]ClockListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.OnTick(ctx, wt)
	}

	c.mu.Lock()
	c.worldTime = wt.Add(c.step)
	c.mu.Unlock()
	return wt
}

// Start begins the tick loop in a background goroutine. A zero interval
// leaves the clock in manual mode.
func (c *WorldClock) Start(ctx context.Context) {
	if c.interval <= 0 {
		c.logger.Info("world clock in manual mode", zap.Time("world_time", c.WorldTime()))
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx)
	c.logger.Info("world clock started",
		zap.Duration("interval", c.interval),
		zap.Duration("step", c.step),
		zap.Time("world_time", c.WorldTime()))
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (c *WorldClock) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.logger.Info("world clock stopped", zap.Time("world_time", c.WorldTime()))
}

func (c *WorldClock) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Step(ctx)
		}
	}
}
