package metricsreceiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// mockReceiver records received metrics.
type mockReceiver struct {
	mu      sync.Mutex
	metrics []*metricspb.ResourceMetrics
	err     error
}

func (m *mockReceiver) ReceiveMetrics(ctx context.Context, metrics []*metricspb.ResourceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.metrics = append(m.metrics, metrics...)
	return nil
}

func (m *mockReceiver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.metrics)
}

// startServer runs a server on an ephemeral port and returns a connected client.
func startServer(t *testing.T, receiver MetricReceiver) (*Server, *grpc.ClientConn) {
	t.Helper()
	return startServerWith(t, Config{Host: "127.0.0.1", Port: 0}, receiver)
}

func startServerWith(t *testing.T, cfg Config, receiver MetricReceiver) (*Server, *grpc.ClientConn) {
	t.Helper()

	server, err := NewServer(cfg, receiver)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Serve(ctx) }()

	conn, err := grpc.NewClient(server.Endpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		server.StopWait()
	})
	return server, conn
}

func containersRequest(value float64) *collectormetrics.ExportMetricsServiceRequest {
	return &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
				Key:   "site",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "sandbox"}},
			}}},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Metrics: []*metricspb.Metric{{
					Name: "hadoop.cluster.runningcontainers",
					Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
						DataPoints: []*metricspb.NumberDataPoint{
							{TimeUnixNano: uint64(time.Now().UnixNano()), Value: &metricspb.NumberDataPoint_AsDouble{AsDouble: value}},
							{TimeUnixNano: uint64(time.Now().UnixNano()), Value: &metricspb.NumberDataPoint_AsInt{AsInt: 7}},
						},
					}},
				}},
			}},
		}},
	}
}

func TestNewServerNilReceiver(t *testing.T) {
	_, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, nil)
	assert.Error(t, err)
}

func TestNewServerEphemeralPort(t *testing.T) {
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, &mockReceiver{})
	require.NoError(t, err)
	defer server.Stop()

	assert.NotEmpty(t, server.Endpoint())
	assert.NotContains(t, server.Endpoint(), ":0")
}

func TestServeReturnsWhenContextCancelled(t *testing.T) {
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, &mockReceiver{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- server.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestExportReachesReceiver(t *testing.T) {
	receiver := &mockReceiver{}
	server, conn := startServer(t, receiver)

	client := collectormetrics.NewMetricsServiceClient(conn)
	resp, err := client.Export(context.Background(), containersRequest(42))
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, 1, receiver.count())
	assert.Equal(t, Stats{Exports: 1, DataPoints: 2}, server.Stats())
}

func TestExportReceiverErrorIsInternal(t *testing.T) {
	receiver := &mockReceiver{err: errors.New("store full")}
	server, conn := startServer(t, receiver)

	client := collectormetrics.NewMetricsServiceClient(conn)
	_, err := client.Export(context.Background(), containersRequest(1))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, uint64(1), server.Stats().Failures)
}

func TestHealthReportsServing(t *testing.T) {
	_, conn := startServer(t, &mockReceiver{})

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{
		Service: collectormetrics.MetricsService_ServiceDesc.ServiceName,
	})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

// extraService registers nothing but reports a health name.
type extraService struct {
	registered bool
}

func (e *extraService) ServiceName() string { return "jpm.test.Extra" }

func (e *extraService) Register(grpc.ServiceRegistrar) { e.registered = true }

func TestExtraServicesShareEndpoint(t *testing.T) {
	extra := &extraService{}
	_, conn := startServerWith(t, Config{Host: "127.0.0.1", Port: 0, Services: []Service{extra}}, &mockReceiver{})
	assert.True(t, extra.registered)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{
		Service: "jpm.test.Extra",
	})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
