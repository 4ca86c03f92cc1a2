package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EventHeaders builds the headers of an outgoing settlement event: the given
// base headers followed by the propagated trace context of ctx. A base header
// whose key the propagator also writes is dropped.
func EventHeaders(ctx context.Context, base ...kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(base)+len(carrier))
	for _, header := range base {
		if _, ok := carrier[strings.ToLower(header.Key)]; ok {
			continue
		}
		headers = append(headers, header)
	}
	keys := carrier.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(carrier.Get(key))})
	}
	return headers
}
