package storage

import (
	"context"
	"slices"
	"strconv"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// SiteAttribute is the resource attribute naming the cluster a metric came from.
const SiteAttribute = "site"

// Sample is a single numeric observation flattened out of an OTLP data point.
type Sample struct {
	Metric     string            `json:"metric"`
	Site       string            `json:"site"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Value      float64           `json:"value"`
}

// Attribute returns the named attribute, treating "site" as the sample's site.
func (s *Sample) Attribute(name string) string {
	if name == SiteAttribute {
		return s.Site
	}
	if v, ok := s.Attributes[name]; ok {
		return v
	}
	return "unknown"
}

// MetricStorage keeps cluster samples in a ring buffer.
// Queries scan the buffer in memory.
type MetricStorage struct {
	samples *RingBuffer[*Sample]
	skipped *RingBuffer[string] // names of metrics that carried no number points
}

// NewMetricStorage creates a new metric storage holding up to capacity samples.
func NewMetricStorage(capacity int) *MetricStorage {
	return &MetricStorage{
		samples: NewRingBuffer[*Sample](capacity),
		skipped: NewRingBuffer[string](64),
	}
}

// ReceiveMetrics flattens gauge and sum data points into samples.
// Histograms and summaries do not feed any dashboard panel and are skipped.
func (ms *MetricStorage) ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) error {
	for _, rm := range resourceMetrics {
		site := extractSite(rm.Resource)

		for _, sm := range rm.ScopeMetrics {
			for _, metric := range sm.Metrics {
				var points []*metricspb.NumberDataPoint
				switch data := metric.Data.(type) {
				case *metricspb.Metric_Gauge:
					points = data.Gauge.GetDataPoints()
				case *metricspb.Metric_Sum:
					points = data.Sum.GetDataPoints()
				default:
					ms.skipped.Add(metric.Name)
					continue
				}

				for _, dp := range points {
					value, ok := numberValue(dp)
					if !ok {
						continue
					}
					ms.samples.Add(&Sample{
						Metric:     metric.Name,
						Site:       site,
						Attributes: attributeMap(dp.Attributes),
						Timestamp:  time.Unix(0, int64(dp.TimeUnixNano)).UTC(),
						Value:      value,
					})
				}
			}
		}
	}

	return nil
}

// Add stores a single sample.
func (ms *MetricStorage) Add(s *Sample) {
	ms.samples.Add(s)
}

// Select returns the samples of metric for site with from <= timestamp < to.
func (ms *MetricStorage) Select(metric, site string, from, to time.Time) []*Sample {
	return ms.samples.Filter(func(s *Sample) bool {
		return s.Metric == metric &&
			s.Site == site &&
			!s.Timestamp.Before(from) &&
			s.Timestamp.Before(to)
	})
}

// GetRecentSamples returns the N most recent samples.
func (ms *MetricStorage) GetRecentSamples(n int) []*Sample {
	return ms.samples.GetRecent(n)
}

// MetricNames returns the sorted set of metric names currently stored.
func (ms *MetricStorage) MetricNames() []string {
	nameSet := make(map[string]struct{})
	for _, s := range ms.samples.GetAll() {
		nameSet[s.Metric] = struct{}{}
	}
	return sortedKeys(nameSet)
}

// Sites returns the sorted set of sites that reported samples.
func (ms *MetricStorage) Sites() []string {
	siteSet := make(map[string]struct{})
	for _, s := range ms.samples.GetAll() {
		siteSet[s.Site] = struct{}{}
	}
	return sortedKeys(siteSet)
}

// Stats returns current storage statistics.
func (ms *MetricStorage) Stats() MetricStorageStats {
	skipped := make(map[string]struct{})
	for _, name := range ms.skipped.GetAll() {
		skipped[name] = struct{}{}
	}

	return MetricStorageStats{
		SampleCount:    ms.samples.Size(),
		Capacity:       ms.samples.Capacity(),
		Received:       ms.samples.Added(),
		MetricNames:    ms.MetricNames(),
		Sites:          ms.Sites(),
		SkippedMetrics: sortedKeys(skipped),
	}
}

// Clear removes all samples.
func (ms *MetricStorage) Clear() {
	ms.samples.Clear()
	ms.skipped.Clear()
}

// MetricStorageStats describes the sample buffer.
type MetricStorageStats struct {
	SampleCount    int      `json:"sample_count"`
	Capacity       int      `json:"capacity"`
	Received       int      `json:"received"`
	MetricNames    []string `json:"metric_names"`
	Sites          []string `json:"sites"`
	SkippedMetrics []string `json:"skipped_metrics,omitempty"`
}

// extractSite reads the site resource attribute, falling back to
// service.name. Returns "unknown" if neither is present.
func extractSite(resource *resourcepb.Resource) string {
	if resource == nil {
		return "unknown"
	}

	var service string
	for _, attr := range resource.Attributes {
		switch attr.Key {
		case SiteAttribute:
			if sv := attr.Value.GetStringValue(); sv != "" {
				return sv
			}
		case "service.name":
			service = attr.Value.GetStringValue()
		}
	}

	if service != "" {
		return service
	}
	return "unknown"
}

func numberValue(dp *metricspb.NumberDataPoint) (float64, bool) {
	switch v := dp.Value.(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		return v.AsDouble, true
	case *metricspb.NumberDataPoint_AsInt:
		return float64(v.AsInt), true
	default:
		return 0, false
	}
}

func attributeMap(attrs []*commonpb.KeyValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = anyValueString(kv.Value)
	}
	return m
}

func anyValueString(v *commonpb.AnyValue) string {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(x.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(x.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(x.BoolValue)
	default:
		return ""
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
