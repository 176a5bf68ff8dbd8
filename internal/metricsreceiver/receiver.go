// Package metricsreceiver accepts cluster metrics over OTLP/gRPC and hands
// them to a store. Other OTLP services, such as job events carried as logs,
// can share the same endpoint.
package metricsreceiver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// MetricReceiver stores received metrics.
// Export may call it concurrently.
type MetricReceiver interface {
	ReceiveMetrics(ctx context.Context, metrics []*metricspb.ResourceMetrics) error
}

// Service is an additional gRPC service served on the receiver's endpoint.
type Service interface {
	// ServiceName is the fully qualified gRPC service name reported by health checks.
	ServiceName() string
	Register(r grpc.ServiceRegistrar)
}

// DefaultMaxRecvMsgSize bounds a single export request.
const DefaultMaxRecvMsgSize = 16 << 20

// Config holds configuration for the OTLP metrics receiver.
type Config struct {
	Host           string // e.g., "127.0.0.1"
	Port           int    // 0 for ephemeral port assignment
	MaxRecvMsgSize int    // 0 uses DefaultMaxRecvMsgSize
	Verbose        bool
	Services       []Service // registered alongside the metrics service
}

// Server is the OTLP gRPC server for cluster metrics.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	service    *metricsService
	stopOnce   sync.Once
	done       chan struct{}
}

// Stats counts what the server has accepted since it started.
type Stats struct {
	Exports    uint64 `json:"exports"`
	DataPoints uint64 `json:"data_points"`
	Failures   uint64 `json:"failures"`
}

// NewServer binds the listener and registers the metrics and health services.
func NewServer(cfg Config, receiver MetricReceiver) (*Server, error) {
	if receiver == nil {
		return nil, errors.New("metric receiver cannot be nil")
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	maxMsg := cfg.MaxRecvMsgSize
	if maxMsg <= 0 {
		maxMsg = DefaultMaxRecvMsgSize
	}

	s := &Server{
		listener:   listener,
		grpcServer: grpc.NewServer(grpc.MaxRecvMsgSize(maxMsg)),
		health:     health.NewServer(),
		service:    &metricsService{receiver: receiver, verbose: cfg.Verbose},
		done:       make(chan struct{}),
	}

	collectormetrics.RegisterMetricsServiceServer(s.grpcServer, s.service)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(collectormetrics.MetricsService_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	for _, svc := range cfg.Services {
		svc.Register(s.grpcServer)
		s.health.SetServingStatus(svc.ServiceName(), healthpb.HealthCheckResponse_SERVING)
	}

	return s, nil
}

// Serve handles OTLP requests until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()
	defer close(s.done)

	err := s.grpcServer.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop marks the service not serving and drains in-flight exports.
// Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	})
}

// StopWait stops the server and waits for Serve to return.
func (s *Server) StopWait() {
	s.Stop()
	<-s.done
}

// Endpoint returns the listening address, e.g. "127.0.0.1:54321".
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stats returns export counters.
func (s *Server) Stats() Stats {
	return Stats{
		Exports:    s.service.exports.Load(),
		DataPoints: s.service.points.Load(),
		Failures:   s.service.failures.Load(),
	}
}

type metricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	receiver MetricReceiver
	verbose  bool

	exports  atomic.Uint64
	points   atomic.Uint64
	failures atomic.Uint64
}

// Export hands the request's resource metrics to the receiver.
func (m *metricsService) Export(
	ctx context.Context,
	req *collectormetrics.ExportMetricsServiceRequest,
) (*collectormetrics.ExportMetricsServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	if err := m.receiver.ReceiveMetrics(ctx, req.ResourceMetrics); err != nil {
		m.failures.Add(1)
		log.Printf("❌ metricsreceiver: store rejected export: %v\n", err)
		return nil, status.Errorf(codes.Internal, "failed to receive metrics: %v", err)
	}

	n := countDataPoints(req.ResourceMetrics)
	m.exports.Add(1)
	m.points.Add(uint64(n))
	if m.verbose {
		log.Printf("📊 metricsreceiver: %d resource metrics, %d data points\n", len(req.ResourceMetrics), n)
	}

	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}

func countDataPoints(rms []*metricspb.ResourceMetrics) int {
	n := 0
	for _, rm := range rms {
		for _, sm := range rm.ScopeMetrics {
			for _, metric := range sm.Metrics {
				n += len(metric.GetGauge().GetDataPoints()) + len(metric.GetSum().GetDataPoints())
			}
		}
	}
	return n
}
