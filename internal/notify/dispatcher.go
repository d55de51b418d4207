package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"echopay/internal/metrics"
	"echopay/internal/model"
	"echopay/internal/qr"
)

const defaultSendTimeout = 15 * time.Second

// Config controls receipt notifications.
type Config struct {
	From    string
	To      string
	Links   Links
	Timeout time.Duration
}

// Dispatcher sends receipt emails in detached goroutines. Failures are logged
// and counted, never returned to the caller.
type Dispatcher struct {
	cfg    Config
	sender Sender
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config, sender Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	return &Dispatcher{cfg: cfg, sender: sender, logger: logger}
}

// Notify schedules an email for r and returns immediately.
func (d *Dispatcher) Notify(r model.Receipt) {
	if d.sender == nil || d.cfg.To == "" {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()

		if err := d.send(ctx, r); err != nil {
			metrics.NotificationFailures.Inc()
			d.logger.Warn("receipt notification failed", zap.String("code", r.Code), zap.Error(err))
			return
		}
		metrics.NotificationsSent.Inc()
		d.logger.Debug("receipt notification sent", zap.String("code", r.Code), zap.String("to", d.cfg.To))
	}()
}

// Wait blocks until every scheduled notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, r model.Receipt) error {
	verifyURL := d.cfg.Links.VerifyURL(r.Code)
	qrURL, err := qr.DataURL(verifyURL, qr.DefaultSize)
	if err != nil {
		d.logger.Debug("receipt qr failed", zap.String("code", r.Code), zap.Error(err))
		qrURL = ""
	}

	body, err := RenderReceipt(r, d.cfg.Links, qrURL)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, Message{
		To:      d.cfg.To,
		From:    d.cfg.From,
		Subject: Subject(r),
		HTML:    body,
	})
}
