package evmeter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"
	"github.com/berfenger/tesla2mqtt/internal/core/port"
	"github.com/berfenger/tesla2mqtt/internal/core/telemetry"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const POLL_JOB_NAME = "evmeter_poll"

var ErrMeterUnavailable = errors.New("ev meter unavailable")

// Poller reads the dedicated vehicle meter over HTTP on a fixed interval and
// feeds the telemetry store.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	writer   port.TelemetryWriter
	sched    quartz.Scheduler
	logger   *zap.Logger
}

func NewPoller(url string, interval, timeout time.Duration, writer port.TelemetryWriter, logger *zap.Logger) *Poller {
	return &Poller{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		writer:   writer,
		logger:   logger.With(zap.String("component", "evmeter")),
	}
}

// Poll performs one read. Failed reads leave the store untouched, so the
// staleness check eventually trips if the meter stays unreachable.
func (p *Poller) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMeterUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMeterUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrMeterUnavailable, resp.StatusCode)
	}

	reading, err := telemetry.ParseMeterMessage(body)
	if err != nil {
		return err
	}
	if !p.writer.Update(domain.MeterSourceEVHTTP, reading) {
		p.logger.Debug("evmeter: reading carried no known fields")
	}
	return nil
}

// Start schedules Poll every interval until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	sched := quartz.NewStdScheduler()
	pollJob := job.NewFunctionJob(func(jobCtx context.Context) (bool, error) {
		if err := p.Poll(jobCtx); err != nil {
			p.logger.Warn("evmeter: poll failed", zap.Error(err))
			return false, err
		}
		return true, nil
	})
	sched.Start(ctx)
	err := sched.ScheduleJob(quartz.NewJobDetail(pollJob, quartz.NewJobKey(POLL_JOB_NAME)),
		quartz.NewSimpleTrigger(p.interval))
	if err != nil {
		sched.Stop()
		return err
	}
	p.sched = sched
	p.logger.Info("evmeter: polling", zap.String("url", p.url), zap.Duration("interval", p.interval))

	// first read right away, the trigger only fires after one interval
	go func() {
		if err := p.Poll(ctx); err != nil {
			p.logger.Warn("evmeter: initial poll failed", zap.Error(err))
		}
	}()
	return nil
}

func (p *Poller) Stop(ctx context.Context) {
	if p.sched == nil {
		return
	}
	p.sched.Stop()
	p.sched.Wait(ctx)
	p.sched = nil
}
