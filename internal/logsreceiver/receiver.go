// Package logsreceiver accepts YARN job lifecycle events sent as OTLP log
// records. Each record's attributes carry one job's fields (jobId,
// currentState, startTime in epoch ms, ...) and the store keeps the latest
// event per job.
package logsreceiver

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tobert/jpm-dash/internal/jpm"
)

// JobReceiver stores decoded job records.
// Export may call it concurrently.
type JobReceiver interface {
	ReceiveJobs(ctx context.Context, jobs []jpm.JobRecord) error
}

// Config holds configuration for the job events service.
type Config struct {
	DefaultSite string // used when neither the record nor its resource names a site
	Verbose     bool
}

// Stats counts what the service has accepted since it started.
type Stats struct {
	Exports  uint64 `json:"exports"`
	Jobs     uint64 `json:"jobs"`
	Skipped  uint64 `json:"skipped"`
	Failures uint64 `json:"failures"`
}

// Service implements the OTLP LogsService for job events. It is served on
// the metrics receiver's endpoint.
type Service struct {
	collectorlogs.UnimplementedLogsServiceServer
	receiver JobReceiver
	cfg      Config

	exports  atomic.Uint64
	jobs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}

// NewService creates a job events service feeding receiver.
func NewService(cfg Config, receiver JobReceiver) (*Service, error) {
	if receiver == nil {
		return nil, errors.New("job receiver cannot be nil")
	}
	return &Service{receiver: receiver, cfg: cfg}, nil
}

// ServiceName returns the gRPC service name for health checks.
func (s *Service) ServiceName() string {
	return collectorlogs.LogsService_ServiceDesc.ServiceName
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	collectorlogs.RegisterLogsServiceServer(r, s)
}

// Stats returns export counters.
func (s *Service) Stats() Stats {
	return Stats{
		Exports:  s.exports.Load(),
		Jobs:     s.jobs.Load(),
		Skipped:  s.skipped.Load(),
		Failures: s.failures.Load(),
	}
}

// Export decodes job events and hands them to the receiver. Records without
// a jobId are counted as skipped; the export still succeeds.
func (s *Service) Export(
	ctx context.Context,
	req *collectorlogs.ExportLogsServiceRequest,
) (*collectorlogs.ExportLogsServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	jobs, skipped := DecodeJobs(req.ResourceLogs, s.cfg.DefaultSite)
	s.skipped.Add(uint64(skipped))

	if len(jobs) > 0 {
		if err := s.receiver.ReceiveJobs(ctx, jobs); err != nil {
			s.failures.Add(1)
			log.Printf("❌ logsreceiver: store rejected job events: %v\n", err)
			return nil, status.Errorf(codes.Internal, "failed to receive jobs: %v", err)
		}
	}

	s.exports.Add(1)
	s.jobs.Add(uint64(len(jobs)))
	if s.cfg.Verbose {
		log.Printf("📋 logsreceiver: %d job events, %d skipped\n", len(jobs), skipped)
	}

	return &collectorlogs.ExportLogsServiceResponse{}, nil
}

// DecodeJobs converts log records to job records. The site comes from the
// record's "site" attribute, else the resource's, else defaultSite.
func DecodeJobs(rls []*logspb.ResourceLogs, defaultSite string) (jobs []jpm.JobRecord, skipped int) {
	for _, rl := range rls {
		site := defaultSite
		for _, kv := range rl.GetResource().GetAttributes() {
			if kv.Key == "site" {
				if v := kv.GetValue().GetStringValue(); v != "" {
					site = v
				}
			}
		}

		for _, sl := range rl.ScopeLogs {
			for _, rec := range sl.LogRecords {
				job := jpm.JobRecord{Site: site}
				for _, kv := range rec.Attributes {
					setField(&job, kv.Key, kv.GetValue())
				}
				if job.JobID == "" {
					skipped++
					continue
				}
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, skipped
}

func setField(job *jpm.JobRecord, key string, v *commonpb.AnyValue) {
	switch key {
	case "jobId":
		job.JobID = v.GetStringValue()
	case "jobDefId":
		job.JobDefID = v.GetStringValue()
	case "jobName":
		job.JobName = v.GetStringValue()
	case "jobExecId":
		job.JobExecID = v.GetStringValue()
	case "site":
		if s := v.GetStringValue(); s != "" {
			job.Site = s
		}
	case "user":
		job.User = v.GetStringValue()
	case "queue":
		job.Queue = v.GetStringValue()
	case "jobType":
		job.JobType = v.GetStringValue()
	case "currentState":
		job.CurrentState = v.GetStringValue()
	case "submissionTime":
		job.SubmissionTime = epochMillis(intValue(v))
	case "startTime":
		job.StartTime = epochMillis(intValue(v))
	case "endTime":
		job.EndTime = epochMillis(intValue(v))
	case "numTotalMaps":
		job.NumTotalMaps = int(intValue(v))
	case "numTotalReduces":
		job.NumTotalReduces = int(intValue(v))
	case "runningContainers":
		job.RunningContainers = int(intValue(v))
	}
}

// intValue accepts int, double and numeric string attributes.
func intValue(v *commonpb.AnyValue) int64 {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return int64(val.DoubleValue)
	case *commonpb.AnyValue_StringValue:
		n, _ := strconv.ParseInt(val.StringValue, 10, 64)
		return n
	}
	return 0
}

func epochMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
