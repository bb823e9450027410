package gasstation

import (
	"time"

	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/ledger"
	"github.com/vitwit/gasstation/logger"
	"github.com/vitwit/gasstation/metrics"
	"github.com/vitwit/gasstation/ratelimit"
	"github.com/vitwit/gasstation/types"
)

type Option func(*Station)

func WithLogger(l logger.Logger) Option {
	return func(s *Station) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Station) {
		s.metrics = r
	}
}

// WithClock sets the timestamp source for receipts and audit records.
func WithClock(now func() time.Time) Option {
	return func(s *Station) {
		s.clock = now
	}
}

// WithSupplier connects the holding that payers pay from and withdrawals go to.
func WithSupplier(supplier ledger.AssetSupplier) Option {
	return func(s *Station) {
		s.supplier = supplier
	}
}

// WithTreasury sends every withdrawal to addr instead of the calling admin.
func WithTreasury(addr types.Address) Option {
	return func(s *Station) {
		s.treasury = addr
	}
}

// WithSinks adds observers that receive every committed audit event.
func WithSinks(sinks ...audit.Sink) Option {
	return func(s *Station) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithRateLimit bounds fee payments per payer.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Station) {
		s.limiter = ratelimit.New(rps, burst, 0)
	}
}

// WithSinkTimeout bounds how long a single sink publish may take. The station
// lock is held meanwhile.
func WithSinkTimeout(d time.Duration) Option {
	return func(s *Station) {
		if d > 0 {
			s.sinkTimeout = d
		}
	}
}

// WithHistory configures the in-memory audit log, e.g. its retention or the
// sequence number to resume after.
func WithHistory(opts ...audit.LogOption) Option {
	return func(s *Station) {
		s.historyOpts = append(s.historyOpts, opts...)
	}
}
