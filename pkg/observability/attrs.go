package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Metric names.
const (
	MetricOperations = "vault.operations.total"
	MetricErrors     = "vault.errors.total"
	MetricDuration   = "vault.operation.duration"
	MetricInFlight   = "vault.operations.active"
)

// Vault attribute keys.
var (
	AttrOperation = attribute.Key("vault.operation")
	AttrLane      = attribute.Key("vault.lane")
	AttrActionID  = attribute.Key("vault.action.id")
	AttrActor     = attribute.Key("vault.actor")
	AttrTarget    = attribute.Key("vault.action.target")
	AttrErrorKind = attribute.Key("vault.error.kind")
)

// ActionAttrs identifies an action on a lane.
func ActionAttrs(lane contracts.Lane, id uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLane.String(string(lane)),
		AttrActionID.Int64(int64(id)),
	}
}

// ErrorKind is the low-cardinality error label recorded on failures.
func ErrorKind(err error) string {
	return contracts.Kind(err)
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
