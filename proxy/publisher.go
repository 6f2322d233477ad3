package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"navcam"
	"navcam/hub"
)

// MaxControllers is the number of controller indices a Publisher polls.
const MaxControllers = 4

// snapshotInterval is how often a full "samples" frame is rebroadcast so a
// subscriber that missed a change converges.
const snapshotInterval = time.Second

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Interval between polls of the source. Zero means 16ms.
	Interval time.Duration

	Hub hub.Config
}

// Publisher polls a SampleSource and broadcasts changed samples to
// websocket subscribers.
type Publisher struct {
	source   navcam.SampleSource
	interval time.Duration
	hub      *hub.Hub
	logger   *slog.Logger

	mu   sync.Mutex
	last map[int]SampleFrame // Present controllers only
}

// NewPublisher creates a publisher over source. Call Run to start it and
// mount Handler on an HTTP mux.
func NewPublisher(source navcam.SampleSource, cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Publisher{
		source:   source,
		interval: interval,
		hub:      hub.New(logger, cfg.Hub),
		logger:   logger,
		last:     make(map[int]SampleFrame),
	}
}

// Handler upgrades subscribers. Each new subscriber first receives a
// "samples" snapshot.
func (p *Publisher) Handler() http.HandlerFunc {
	return p.hub.Handler(hub.HandlerOptions{
		OnConnect: func(_ *http.Request, c *hub.Client) {
			msg, err := hub.Encode(FrameSamples, time.Time{}, p.snapshot())
			if err != nil {
				p.logger.Warn("encode samples snapshot failed", "error", err)
				return
			}
			c.Enqueue(msg)
		},
	})
}

// Run drives the hub and the poll loop until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	go p.hub.Run(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	resync := time.NewTicker(snapshotInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll()
		case <-resync.C:
			if err := p.hub.Broadcast(FrameSamples, time.Time{}, p.snapshot()); err != nil {
				p.logger.Warn("encode samples snapshot failed", "error", err)
			}
		}
	}
}

// poll reads every controller and broadcasts the ones that changed.
func (p *Publisher) poll() {
	for i := 0; i < MaxControllers; i++ {
		s, ok := p.source.Sample(i)
		frame := SampleFrame{Controller: i, Present: ok}
		if ok {
			frame.Sample = s.Clone()
		}

		p.mu.Lock()
		prev, had := p.last[i]
		changed := had != ok || (ok && !sampleEqual(prev.Sample, frame.Sample))
		if ok {
			p.last[i] = frame
		} else {
			delete(p.last, i)
		}
		p.mu.Unlock()

		if !changed {
			continue
		}
		if err := p.hub.Broadcast(FrameSample, time.Time{}, frame); err != nil {
			p.logger.Warn("encode sample failed", "error", err, "controller", i)
		}
	}
}

func (p *Publisher) snapshot() SamplesFrame {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := SamplesFrame{Samples: make([]SampleFrame, 0, len(p.last))}
	for i := 0; i < MaxControllers; i++ {
		if f, ok := p.last[i]; ok {
			out.Samples = append(out.Samples, f)
		}
	}
	return out
}

func sampleEqual(a, b navcam.DeviceSample) bool {
	return a.ID == b.ID &&
		a.Connected == b.Connected &&
		slices.Equal(a.Axes, b.Axes) &&
		slices.Equal(a.Buttons, b.Buttons)
}
