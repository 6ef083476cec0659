package access

import (
	"context"
	"errors"
	"fmt"

	"geogate/internal/audit"
	"geogate/internal/config"
	"geogate/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Engine resolves allow/deny for client IPs.
type Engine struct {
	records  RecordStore
	resolver CountryResolver
	settings SettingsFunc
	sink     audit.Sink

	lookups singleflight.Group
}

func NewEngine(records RecordStore, resolver CountryResolver, settings SettingsFunc, sink audit.Sink) *Engine {
	if settings == nil {
		settings = config.GetAccessFilter
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Engine{
		records:  records,
		resolver: resolver,
		settings: settings,
		sink:     sink,
	}
}

// Resolve returns the decision for ip. It never fails: faults are reported
// to the audit sink and anything that prevents a decision yields Deny.
func (e *Engine) Resolve(ctx context.Context, ip string) (decision Decision) {
	defer func() {
		if recovered := recover(); recovered != nil {
			reportPanic(ctx, e.sink, "resolve", ip, recovered)
			decision = Deny
		}
	}()

	decision, err := e.resolve(ctx, ip)
	if err != nil {
		reportFault(ctx, e.sink, "resolve", ip, err)
	}
	return decision
}

// resolve returns a definite decision together with any non-fatal faults
// met on the way.
func (e *Engine) resolve(ctx context.Context, ip string) (Decision, error) {
	key, ok := domain.IPv4ToUint32(ip)
	if !ok {
		return Deny, nil
	}

	var faults []error

	record, found, err := e.records.Get(ctx, key)
	switch {
	case err != nil:
		// An unreadable cache is a miss, not a verdict.
		faults = append(faults, fmt.Errorf("read access record: %w", err))
	case found:
		return decisionOf(record.Allowed), nil
	}

	filter := e.settings()
	canonical := domain.Uint32ToIPv4(key)
	res, _, _ := e.lookups.Do(canonical, func() (any, error) {
		return e.resolveCountry(ctx, key, canonical, filter), nil
	})
	outcome := res.(lookupOutcome)
	if outcome.err != nil {
		faults = append(faults, outcome.err)
	}

	return outcome.decision, errors.Join(faults...)
}

type lookupOutcome struct {
	decision Decision
	err      error
}

// resolveCountry runs once per IP for all concurrent misses in this process.
func (e *Engine) resolveCountry(ctx context.Context, key uint32, ip string, filter config.AccessFilter) lookupOutcome {
	opCtx, cancel := detach(ctx)
	defer cancel()

	code, ok := e.resolver.Lookup(opCtx, ip)
	if !ok || !config.IsKnownCountry(code) {
		return lookupOutcome{decision: Deny}
	}

	decision := decisionOf(filter.AllowsCountry(code))
	inserted, err := e.records.InsertIfAbsent(opCtx, domain.AccessRecord{
		IP:          key,
		Allowed:     decision == Allow,
		CountryCode: code,
	})
	if err != nil {
		return lookupOutcome{decision: decision, err: fmt.Errorf("store access record: %w", err)}
	}
	if inserted {
		return lookupOutcome{decision: decision}
	}

	// Another node stored this IP first; answer with its verdict so that
	// every caller agrees with the stored row.
	existing, found, err := e.records.Get(opCtx, key)
	if err != nil {
		return lookupOutcome{decision: decision, err: fmt.Errorf("reread access record: %w", err)}
	}
	if found {
		return lookupOutcome{decision: decisionOf(existing.Allowed)}
	}
	return lookupOutcome{decision: decision}
}
