package metrics

import (
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	ChunkDurationName  = "dictation.chunk.process.duration"
	MailboxDroppedName = "dictation.mailbox.dropped"
)

// ChunkDurationBuckets covers a 100 ms chunk: anything past the chunk
// length means the processor is falling behind capture.
var ChunkDurationBuckets = []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250}

// Views shapes the pipeline instruments for export. The processing
// histogram gets buckets sized to chunk lengths and the drop gauge keeps
// only its mailbox label.
func Views() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: ChunkDurationName},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: ChunkDurationBuckets}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: MailboxDroppedName},
			sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter("mailbox")},
		),
	}
}
