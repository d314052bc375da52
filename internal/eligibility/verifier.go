// Package eligibility answers whether a project, and a holder within a gated
// project, may take part in a launch. Answers are cached, concurrent misses
// for one key share a single upstream call, and an upstream failure with
// nothing cached resolves to not eligible.
package eligibility

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// Source says where an answer came from.
type Source string

// Answer sources.
const (
	SourceFresh      Source = "fresh"
	SourceCache      Source = "cache"
	SourceStale      Source = "stale"
	SourceFailClosed Source = "fail-closed"
)

// Result is an eligibility answer. It is never accompanied by an error.
type Result struct {
	Data     *model.AbcLaunchData
	Source   Source
	Eligible bool
	Stale    bool
}

// Verifier wraps a LaunchDataAdapter with caching and fail-closed semantics.
type Verifier struct {
	adapter LaunchDataAdapter
	cache   Cache
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
}

// Config configures a Verifier.
type Config struct {
	TTL     time.Duration
	Timeout time.Duration
}

// NewVerifier creates a Verifier. Entries younger than cfg.TTL are served
// without calling the adapter; older retained entries are only served when
// the adapter fails.
func NewVerifier(adapter LaunchDataAdapter, cache Cache, cfg Config) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Verifier{
		adapter: adapter,
		cache:   cache,
		logger:  slog.Default().With("component", "eligibility"),
		now:     time.Now,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
	}
}

// SetClock overrides the time source.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// Verify reports whether the project has valid launch data.
func (v *Verifier) Verify(ctx context.Context, projectAddress string) Result {
	project := model.NormalizeAddress(projectAddress)
	return v.lookup(ctx, "launch:"+project, func(ctx context.Context) (Entry, error) {
		data, err := v.adapter.GetProjectAbcLaunchData(ctx, project)
		metrics.ObserveUpstream("launch_adapter", err)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Data: data, Eligible: v.launchValid(project, data)}, nil
	})
}

// VerifyHolder reports whether holder may take part in the project's launch.
// For gated launches the holder must own the program NFT.
func (v *Verifier) VerifyHolder(ctx context.Context, projectAddress, holderAddress string) Result {
	project := model.NormalizeAddress(projectAddress)
	holder := model.NormalizeAddress(holderAddress)
	return v.lookup(ctx, "holder:"+project+":"+holder, func(ctx context.Context) (Entry, error) {
		data, err := v.adapter.GetProjectAbcLaunchData(ctx, project)
		metrics.ObserveUpstream("launch_adapter", err)
		if err != nil {
			return Entry{}, err
		}
		if !v.launchValid(project, data) {
			return Entry{Data: data}, nil
		}
		if !data.Gated() {
			return Entry{Data: data, Eligible: true}, nil
		}

		owns, err := v.adapter.OwnsNFT(ctx, data.NFTContractAddress, holder)
		metrics.ObserveUpstream("launch_adapter", err)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Data: data, Eligible: owns}, nil
	})
}

func (v *Verifier) launchValid(project string, data *model.AbcLaunchData) bool {
	if data == nil {
		return false
	}
	if data.Vesting != nil {
		if err := data.Vesting.Validate(); err != nil {
			v.logger.Warn("Launch data carries an invalid vesting schedule", "project", project, "error", err)
			return false
		}
	}
	return true
}

func (v *Verifier) lookup(ctx context.Context, key string, fetch func(context.Context) (Entry, error)) Result {
	cached, hit, err := v.cache.Get(ctx, key)
	if err != nil {
		v.logger.Warn("Eligibility cache read failed", "key", key, "error", err)
		hit = false
	}
	if hit && v.now().Sub(cached.StoredAt) < v.ttl {
		return v.result(cached, SourceCache)
	}

	value, err, _ := v.group.Do(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()

		entry, err := fetch(callCtx)
		if err != nil {
			return nil, err
		}
		entry.StoredAt = v.now()
		if err := v.cache.Set(ctx, key, entry); err != nil {
			v.logger.Warn("Eligibility cache write failed", "key", key, "error", err)
		}
		return entry, nil
	})
	if err == nil {
		entry, _ := value.(Entry)
		return v.result(entry, SourceFresh)
	}

	if hit {
		v.logger.Warn("Launch adapter unavailable, serving stale answer",
			"key", key,
			"age", v.now().Sub(cached.StoredAt),
			"error", err)
		return v.result(cached, SourceStale)
	}

	v.logger.Warn("Launch adapter unavailable and nothing cached, failing closed", "key", key, "error", err)
	return v.result(Entry{}, SourceFailClosed)
}

func (v *Verifier) result(entry Entry, source Source) Result {
	metrics.EligibilityLookups.WithLabelValues(string(source)).Inc()
	return Result{
		Data:     entry.Data,
		Eligible: entry.Eligible,
		Stale:    source == SourceStale,
		Source:   source,
	}
}
