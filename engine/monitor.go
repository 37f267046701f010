package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/boardwatch/dom"
)

// monitor watches the source's mutation stream and schedules extraction
// cycles. Bursts are debounced: the quiet period is measured from the last
// node-adding batch, so churn resets the timer instead of firing per batch.
// One cycle always runs immediately on start to cover content already on
// the page.
type monitor struct {
	src      dom.Source
	debounce time.Duration
	onCycle  func(ctx context.Context, trigger string)
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newMonitor(src dom.Source, debounce time.Duration, logger *slog.Logger, onCycle func(ctx context.Context, trigger string)) *monitor {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &monitor{
		src:      src,
		debounce: debounce,
		onCycle:  onCycle,
		logger:   logger,
	}
}

// start runs one immediate cycle, then begins observation.
func (m *monitor) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.done = make(chan struct{})

	// Initial cycle, regardless of mutations.
	m.onCycle(ctx, "start")

	go m.loop(ctx)
}

// stop cancels any pending debounce timer and detaches from the mutation
// stream. Subsequent mutations are ignored.
func (m *monitor) stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *monitor) loop(ctx context.Context) {
	defer close(m.done)

	var timer *time.Timer
	var timerCh <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case mut, ok := <-m.src.Mutations():
			if !ok {
				m.logger.Info("monitor: mutation stream closed")
				return
			}
			if mut.Added == 0 {
				continue
			}
			// Reset the quiet-period timer from this batch.
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(m.debounce)
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			m.onCycle(ctx, "mutation")
		}
	}
}
