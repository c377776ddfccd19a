package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

const (
	DefaultLookbackSlots = 150

	MinPriorityFee      uint64 = 1000
	MaxPriorityFee      uint64 = 1_000_000
	FallbackPriorityFee uint64 = 5000

	feeFetchTimeout = 10 * time.Second
)

var feeBuffer = decimal.New(110, -2)

// Estimate is a priority fee recommendation in micro-lamports per compute
// unit. Stale is set when the fee market could not be read and the value is
// the last known good one (or the fallback).
type Estimate struct {
	Fee   uint64
	Stale bool
}

// FeeOption configures a FeeEstimator
type FeeOption func(*FeeEstimator)

// WithLookbackSlots limits sampling to the newest n slots
func WithLookbackSlots(n int) FeeOption {
	return func(e *FeeEstimator) {
		if n > 0 {
			e.lookback = n
		}
	}
}

// FeeEstimator caches a priority fee derived from recent fee market samples
type FeeEstimator struct {
	ledger   ports.Ledger
	cacheTTL time.Duration
	lookback int
	logger   *slog.Logger
	now      func() time.Time

	// refreshes share one in-flight fetch; mu only guards the cache.
	refreshes singleflight.Group

	mu        sync.Mutex
	cached    uint64
	cachedAt  time.Time
	hasCached bool
}

// NewFeeEstimator creates an estimator that refreshes at most once per cacheTTL
func NewFeeEstimator(ledger ports.Ledger, cacheTTL time.Duration, opts ...FeeOption) *FeeEstimator {
	e := &FeeEstimator{
		ledger:   ledger,
		cacheTTL: cacheTTL,
		lookback: DefaultLookbackSlots,
		logger:   slog.Default().With("component", "fees"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PriorityFee returns the recommended fee, stale or not
func (e *FeeEstimator) PriorityFee(ctx context.Context) uint64 {
	return e.Estimate(ctx).Fee
}

// Estimate returns the cached fee while it is younger than the cache window,
// otherwise samples the fee market. Concurrent callers share one fetch, and a
// caller whose context ends first gets the stale value. Fetch errors never
// propagate.
func (e *FeeEstimator) Estimate(ctx context.Context) Estimate {
	e.mu.Lock()
	now := e.now()
	if e.hasCached && now.Sub(e.cachedAt) < e.cacheTTL {
		fee := e.cached
		e.mu.Unlock()
		return Estimate{Fee: fee}
	}
	e.mu.Unlock()

	ch := e.refreshes.DoChan("fees", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), feeFetchTimeout)
		defer cancel()
		return e.refresh(fetchCtx, now), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Estimate)
	case <-ctx.Done():
		return e.stale(ctx.Err())
	}
}

func (e *FeeEstimator) refresh(ctx context.Context, now time.Time) Estimate {
	samples, err := e.ledger.GetRecentPrioritizationFees(ctx)
	if err != nil {
		return e.stale(err)
	}

	fee, p75 := percentileFee(samples, e.lookback)
	if p75 > 0 && fee == MaxPriorityFee {
		e.logger.Warn("priority fee capped", "p75", p75, "cap", MaxPriorityFee)
	}

	e.mu.Lock()
	e.cached = fee
	e.cachedAt = now
	e.hasCached = true
	e.mu.Unlock()

	priorityFee.Set(float64(fee))
	return Estimate{Fee: fee}
}

func (e *FeeEstimator) stale(err error) Estimate {
	e.mu.Lock()
	fee := FallbackPriorityFee
	if e.hasCached {
		fee = e.cached
	}
	e.mu.Unlock()

	e.logger.Warn("failed to fetch prioritization fees", "err", err, "fallback", fee)
	feeEstimateStale.Inc()
	return Estimate{Fee: fee, Stale: true}
}

// percentileFee takes the newest lookback samples, drops zero fees and
// returns the buffered 75th percentile clamped to the fee bounds, along with
// the raw percentile (0 when there was nothing to sample).
func percentileFee(samples []core.FeeSample, lookback int) (uint64, uint64) {
	samples = append([]core.FeeSample(nil), samples...)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Slot > samples[j].Slot })

	fees := make([]uint64, 0, len(samples))
	for i, s := range samples {
		if i >= lookback {
			break
		}
		if s.Fee > 0 {
			fees = append(fees, s.Fee)
		}
	}

	if len(fees) == 0 {
		return MinPriorityFee, 0
	}

	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	p75 := fees[len(fees)*3/4]

	if p75 > MaxPriorityFee {
		return MaxPriorityFee, p75
	}
	fee := uint64(decimal.NewFromInt(int64(p75)).Mul(feeBuffer).Ceil().IntPart())
	return min(fee, MaxPriorityFee), p75
}
