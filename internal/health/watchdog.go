package health

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Watchdog periodically flags streams that stopped delivering messages.
// It is observability only: it never forces a reconnect itself.
type Watchdog struct {
	registry  *Registry
	cron      *cron.Cron
	threshold time.Duration
	logger    *logrus.Logger
}

func NewWatchdog(registry *Registry, threshold time.Duration, logger *logrus.Logger) *Watchdog {
	return &Watchdog{
		registry:  registry,
		cron:      cron.New(cron.WithSeconds()),
		threshold: threshold,
		logger:    logger,
	}
}

func (w *Watchdog) Start() error {
	w.logger.WithField("threshold", w.threshold).Info("Starting stream watchdog")

	// Sweep the health table every 5 seconds
	if _, err := w.cron.AddFunc("*/5 * * * * *", w.sweep); err != nil {
		return err
	}

	w.cron.Start()
	return nil
}

func (w *Watchdog) Stop() {
	w.logger.Info("Stopping stream watchdog")
	w.cron.Stop()
}

func (w *Watchdog) sweep() {
	for stream, silence := range w.registry.Stale(w.threshold) {
		w.logger.WithFields(logrus.Fields{
			"stream":     stream,
			"silent_for": silence.Round(time.Second).String(),
		}).Warn("Stream is stale, no messages received")
	}
}
