package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Simple program to send an hour of synthetic YARN cluster metrics to a
// running jpm-dash OTLP receiver.
// Usage: go run send_metrics.go <endpoint> [site]
// Example: go run send_metrics.go 127.0.0.1:38279 sandbox
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <endpoint> [site]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 127.0.0.1:38279 sandbox\n", os.Args[0])
		os.Exit(1)
	}

	endpoint := os.Args[1]
	site := "default"
	if len(os.Args) > 2 {
		site = os.Args[2]
	}
	fmt.Printf("📡 Connecting to OTLP endpoint: %s\n", endpoint)

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create grpc client: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	client := collectormetrics.NewMetricsServiceClient(conn)

	// One point per minute for the last hour, shaped like a daytime load curve
	const totalMB = 64 * 1024
	now := time.Now().Truncate(time.Minute)
	names := []string{
		"hadoop.cluster.allocatedmb",
		"hadoop.cluster.totalmemory",
		"hadoop.cluster.runningcontainers",
		"hadoop.cluster.allocatedvcores",
	}
	points := make(map[string][]*metricspb.NumberDataPoint, len(names))
	for i := 60; i > 0; i-- {
		at := uint64(now.Add(-time.Duration(i) * time.Minute).UnixNano())
		load := 0.5 + 0.4*math.Sin(float64(i)/60*math.Pi)
		values := map[string]float64{
			"hadoop.cluster.allocatedmb":       math.Round(totalMB * load),
			"hadoop.cluster.totalmemory":       totalMB,
			"hadoop.cluster.runningcontainers": math.Round(40 * load),
			"hadoop.cluster.allocatedvcores":   math.Round(32 * load),
		}
		for _, name := range names {
			points[name] = append(points[name], &metricspb.NumberDataPoint{
				TimeUnixNano: at,
				Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: values[name]},
			})
		}
	}

	metrics := make([]*metricspb.Metric, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, &metricspb.Metric{
			Name: name,
			Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: points[name]}},
		})
	}

	req := &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					{
						Key:   "site",
						Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: site}},
					},
					{
						Key:   "service.name",
						Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "yarn-resourcemanager"}},
					},
				},
			},
			ScopeMetrics: []*metricspb.ScopeMetrics{{Metrics: metrics}},
		}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Export(ctx, req); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to export metrics: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Sent %d metrics x 60 points for site %q\n", len(names), site)
	fmt.Println("💡 Reload the dashboard to see them")
}
