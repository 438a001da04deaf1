package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/allergy-extractor/internal/common"
)

const jobServiceName = "allergy.v1.JobService"

// jobServiceServer is the handler type behind jobServiceDesc.
// Requests and responses are structpb.Struct; requests carry "job_id".
type jobServiceServer interface {
	GetJobStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetReviewDraft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var jobServiceDesc = grpc.ServiceDesc{
	ServiceName: jobServiceName,
	HandlerType: (*jobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetJobStatus", Handler: unary("GetJobStatus", jobServiceServer.GetJobStatus)},
		{MethodName: "GetReviewDraft", Handler: unary("GetReviewDraft", jobServiceServer.GetReviewDraft)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "allergy/v1/job.proto",
}

func unary(method string, call func(jobServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(jobServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + jobServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(jobServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// JobRPC exposes job status and review drafts over gRPC.
type JobRPC struct {
	svc    JobService
	logger *slog.Logger
}

func NewJobRPC(svc JobService, logger *slog.Logger) *JobRPC {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRPC{svc: svc, logger: logger}
}

func (r *JobRPC) GetJobStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requestJobID(req)
	if err != nil {
		return nil, err
	}
	st, err := r.svc.GetJobStatus(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(st)
}

func (r *JobRPC) GetReviewDraft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requestJobID(req)
	if err != nil {
		return nil, err
	}
	draft, err := r.svc.GetReviewDraft(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(draft)
}

func requestJobID(req *structpb.Struct) (uuid.UUID, error) {
	raw := req.GetFields()["job_id"].GetStringValue()
	if raw == "" {
		return uuid.Nil, common.InvalidArgumentError("job_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("job_id %q is not a UUID", raw)
	}
	return id, nil
}

// toStruct converts a JSON-tagged value into a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalError(err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, common.InternalError(err.Error())
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, common.InternalError(err.Error())
	}
	return s, nil
}

// NewGRPCServer registers the job service and a health server reporting SERVING.
func NewGRPCServer(svc JobService, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	s.RegisterService(&jobServiceDesc, NewJobRPC(svc, logger))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(jobServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc.request", "method", info.FullMethod, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
			return resp, err
		}
		logger.Info("grpc.request", "method", info.FullMethod, "elapsed_ms", time.Since(start).Milliseconds())
		return resp, nil
	}
}
