package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rishi925-eng/Vital-Trace/internal/alerter"
	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// The ingest service carries JSON over gRPC, so clients need no generated stubs.
const (
	codecName           = "json"
	ingestServiceName   = "vitaltrace.v1.Ingest"
	submitReadingMethod = "/" + ingestServiceName + "/SubmitReading"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// SubmitReadingResponse reports what a submitted reading changed.
type SubmitReadingResponse struct {
	Created  []types.Alert `json:"created"`
	Resolved []types.Alert `json:"resolved"`
	Errors   []string      `json:"errors,omitempty"`
}

// IngestServer is the server API for the Ingest service.
type IngestServer interface {
	SubmitReading(ctx context.Context, r *types.Reading) (*SubmitReadingResponse, error)
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ingestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitReading", Handler: submitReadingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vitaltrace/v1/ingest",
}

func submitReadingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.Reading)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).SubmitReading(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitReadingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).SubmitReading(ctx, req.(*types.Reading))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCService evaluates submitted readings synchronously.
type GRPCService struct {
	eval Evaluator
	log  zerolog.Logger
}

// NewGRPCServer builds a gRPC server exposing the Ingest service.
func NewGRPCServer(eval Evaluator, log zerolog.Logger) *grpc.Server {
	log = log.With().Str("component", "grpc_ingest").Logger()
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(recoveryInterceptor(log), loggingInterceptor(log)))
	RegisterIngestServer(srv, &GRPCService{eval: eval, log: log})
	return srv
}

func (s *GRPCService) SubmitReading(ctx context.Context, r *types.Reading) (*SubmitReadingResponse, error) {
	if r.DeviceID == "" {
		metrics.IngestReadings.WithLabelValues("grpc", "invalid").Inc()
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}

	out, err := s.eval.Evaluate(ctx, *r)
	resp := &SubmitReadingResponse{Created: out.Created, Resolved: out.Resolved}
	if err != nil {
		if errors.Is(err, alerter.ErrInvalidReading) {
			metrics.IngestReadings.WithLabelValues("grpc", "invalid").Inc()
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		// partial failure: report what succeeded alongside the errors
		for _, e := range out.Errors {
			resp.Errors = append(resp.Errors, e.Error())
		}
		metrics.IngestReadings.WithLabelValues("grpc", "failed").Inc()
		return resp, nil
	}
	metrics.IngestReadings.WithLabelValues("grpc", "evaluated").Inc()
	return resp, nil
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}

func recoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Str("method", info.FullMethod).
					Msg("grpc handler panic recovered")
				metrics.PanicsRecovered.WithLabelValues("grpc_ingest").Inc()
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// IngestClient calls the Ingest service.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// SubmitReading sends one reading and returns the evaluation result.
func (c *IngestClient) SubmitReading(ctx context.Context, r *types.Reading, opts ...grpc.CallOption) (*SubmitReadingResponse, error) {
	out := new(SubmitReadingResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, submitReadingMethod, r, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
