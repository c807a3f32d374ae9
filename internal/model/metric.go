package model

type MetricKind int

const (
	KindCounter MetricKind = iota
	KindGauge
	KindTiming
)

// StatsdType is the type suffix used on the statsd wire.
func (k MetricKind) StatsdType() string {
	switch k {
	case KindCounter:
		return "c"
	case KindTiming:
		return "ms"
	default:
		return "g"
	}
}

func (k MetricKind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindTiming:
		return "timing"
	default:
		return "gauge"
	}
}

type Metric struct {
	Name  string
	Value int64
	Kind  MetricKind
}

// MetricName joins prefix and category with a dot, or returns category alone for an empty prefix.
func MetricName(prefix, category string) string {
	if prefix == "" {
		return category
	}
	return prefix + "." + category
}

func Gauge(name string, v int64) Metric   { return Metric{Name: name, Value: v, Kind: KindGauge} }
func Counter(name string, v int64) Metric { return Metric{Name: name, Value: v, Kind: KindCounter} }
func Timing(name string, v int64) Metric  { return Metric{Name: name, Value: v, Kind: KindTiming} }
