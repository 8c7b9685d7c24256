package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/vcs"
)

// Poller watches a pipeline's repository head and submits a build whenever a
// new revision appears. An unchanged head submits nothing; dedup downstream
// additionally collapses duplicate submissions.
type Poller struct {
	pipeline  string
	interval  time.Duration
	collab    vcs.Collaborator
	submitter Submitter

	mu       sync.Mutex
	lastHash string

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewPoller creates a poller for one pipeline.
func NewPoller(pipeline string, interval time.Duration, collab vcs.Collaborator, submitter Submitter) *Poller {
	return &Poller{
		pipeline:  pipeline,
		interval:  interval,
		collab:    collab,
		submitter: submitter,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *Poller) Start() {
	go p.run()
}

func (p *Poller) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("Polling repository for changes",
		logfields.Pipeline(p.pipeline), slog.Duration("interval", p.interval))

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.stop:
			return
		}
	}
}

// poll checks the head once and submits on change.
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	head, err := p.collab.Head(ctx)
	if err != nil {
		slog.Warn("Poll could not resolve head",
			logfields.Pipeline(p.pipeline), logfields.Error(err))
		return
	}

	p.mu.Lock()
	changed := head.Hash != p.lastHash
	if changed {
		p.lastHash = head.Hash
	}
	p.mu.Unlock()
	if !changed {
		return
	}

	slog.Info("Poll detected new revision",
		logfields.Pipeline(p.pipeline), logfields.Revision(head.String()))
	req := NewRequest(p.pipeline, head, build.TriggerPoll)
	if err := p.submitter.Submit(ctx, req); err != nil {
		slog.Warn("Polled build rejected",
			logfields.Pipeline(p.pipeline), logfields.Error(err))
	}
}

// Stop terminates the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}
