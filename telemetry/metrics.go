package telemetry

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Units are encoded according to the case-sensitive abbreviations from the
// Unified Code for Units of Measure: http://unitsofmeasure.org/ucum.html.
const (
	unitDimensionless = "1"
	unitMilliseconds  = "ms"
)

//nolint:gochecknoglobals // OpenTelemetry attribute keys must be global for reuse
var (
	packageKey = attribute.Key("msgsource_package")
	methodKey  = attribute.Key("msgsource_method")
	statusKey  = attribute.Key("msgsource_status")
)

var (
	defaultMillisecondsBoundaries = []float64{ //nolint:gochecknoglobals // OpenTelemetry histogram boundaries must be global for reuse
		0.0, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 8.0, 10.0, 13.0, 16.0, 20.0, 25.0,
		30.0, 40.0, 50.0, 65.0, 80.0, 100.0, 130.0, 160.0, 200.0, 250.0, 300.0, 400.0, 500.0, 650.0,
		800.0, 1000.0, 2000.0, 5000.0, 10000.0, 60000.0,
	}
)

// Views returns the latency histogram view plus a derived completed_calls
// count for pkg.
func Views(pkg string) []sdkmetric.View {
	return []sdkmetric.View{
		func(inst sdkmetric.Instrument) (sdkmetric.Stream, bool) {
			if inst.Kind == sdkmetric.InstrumentKindHistogram && inst.Name == pkg+"/latency" {
				return sdkmetric.Stream{
					Name:        inst.Name,
					Description: "Distribution of store call latency, by package and method.",
					Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
						Boundaries: defaultMillisecondsBoundaries,
					},
					AttributeFilter: func(kv attribute.KeyValue) bool {
						return kv.Key == packageKey || kv.Key == methodKey || kv.Key == statusKey
					},
				}, true
			}
			return sdkmetric.Stream{}, false
		},

		func(inst sdkmetric.Instrument) (sdkmetric.Stream, bool) {
			if inst.Kind == sdkmetric.InstrumentKindHistogram && inst.Name == pkg+"/latency" {
				return sdkmetric.Stream{
					Name:        strings.Replace(inst.Name, "/latency", "/completed_calls", 1),
					Description: "Count of store calls by method and status.",
					Aggregation: sdkmetric.DefaultAggregationSelector(sdkmetric.InstrumentKindCounter),
					AttributeFilter: func(kv attribute.KeyValue) bool {
						return kv.Key == methodKey || kv.Key == statusKey
					},
				}, true
			}
			return sdkmetric.Stream{}, false
		},
	}
}

// LatencyMeasure returns the histogram recording store call latency for pkg.
func LatencyMeasure(pkg string) metric.Float64Histogram {
	pkgMeter := otel.Meter(pkg, metric.WithInstrumentationAttributes(packageKey.String(pkg)))

	m, err := pkgMeter.Float64Histogram(
		pkg+"/latency",
		metric.WithDescription("Latency distribution of store calls"),
		metric.WithUnit(unitMilliseconds),
	)
	if err != nil {
		// The only possible errors are from invalid key or value names, and those are programming
		// errors that will be found during testing.
		panic(fmt.Sprintf("fullName=%q, provider=%q: %v", pkg, pkgMeter, err))
	}

	return m
}

// DimensionlessMeasure creates a simple counter specifically for dimensionless measurements.
func DimensionlessMeasure(pkg string, meterName string, description string) metric.Int64Counter {
	pkgMeter := otel.Meter(pkg, metric.WithInstrumentationAttributes(packageKey.String(pkg)))

	m, err := pkgMeter.Int64Counter(
		pkg+meterName,
		metric.WithDescription(description),
		metric.WithUnit(unitDimensionless),
	)
	if err != nil {
		panic(fmt.Sprintf("fullName=%q, provider=%q: %v", pkg, pkgMeter, err))
	}
	return m
}

// StatusAttr labels a measurement with the outcome of err.
func StatusAttr(err error) attribute.KeyValue {
	return statusKey.String(ErrorCode(err))
}

// MethodAttr labels a measurement with the calling method.
func MethodAttr(method string) attribute.KeyValue {
	return methodKey.String(method)
}
