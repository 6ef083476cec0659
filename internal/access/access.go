// Package access decides per client IP whether a request may pass, caches
// the verdict in the access record store and escalates IPs that keep hitting
// missing resources into a permanent deny.
package access

import (
	"context"
	"fmt"
	"time"

	"geogate/internal/audit"
	"geogate/internal/config"
	"geogate/internal/domain"
)

// Decision is the verdict for one IP. The zero value is Deny.
type Decision uint8

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

func decisionOf(allowed bool) Decision {
	if allowed {
		return Allow
	}
	return Deny
}

// SettingsFunc returns the configuration snapshot used for one evaluation.
type SettingsFunc func() config.AccessFilter

// RecordStore is the read/insert side of the access record table.
type RecordStore interface {
	Get(ctx context.Context, ip uint32) (domain.AccessRecord, bool, error)
	InsertIfAbsent(ctx context.Context, record domain.AccessRecord) (bool, error)
}

// CountryResolver maps an IPv4 address to an ISO country code; ok is false
// when the country is unknown for any reason.
type CountryResolver interface {
	Lookup(ctx context.Context, ip string) (code string, ok bool)
}

const storeTimeout = 5 * time.Second

// detach keeps store writes alive after the triggering request is cancelled.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

func reportFault(ctx context.Context, sink audit.Sink, operation, ip string, err error) {
	if sink == nil || err == nil {
		return
	}
	sink.Emit(ctx, audit.Event{
		Time:      time.Now().UTC(),
		IP:        ip,
		Reason:    audit.ReasonStoreFault,
		Operation: operation,
		Error:     err.Error(),
	})
}

func reportPanic(ctx context.Context, sink audit.Sink, operation, ip string, recovered any) {
	if sink == nil {
		return
	}
	sink.Emit(ctx, audit.Event{
		Time:      time.Now().UTC(),
		IP:        ip,
		Reason:    audit.ReasonPanic,
		Operation: operation,
		Error:     fmt.Sprint(recovered),
	})
}
