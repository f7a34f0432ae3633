package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wattlens/wattlens/internal/anomaly"
)

// AnalysisServiceName is the fully qualified gRPC service name.
const AnalysisServiceName = "wattlens.v1.Analysis"

// AnalysisServer exposes the threshold flagger over gRPC. Messages are
// google.protobuf.Struct documents:
//
//	Flag:   {"points":[{"time":RFC3339,"value":n,"label":s}], "threshold":n}
//	        -> {"flags":[bool], "count":n, "total":n}
//	Window: {"points":[...], "start":RFC3339, "end":RFC3339}
//	        -> {"points":[...]}
type AnalysisServer interface {
	Flag(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Window(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AnalysisService implements AnalysisServer on top of the anomaly package.
type AnalysisService struct {
	logger *slog.Logger
}

// NewAnalysisService constructs the gRPC analysis facade.
func NewAnalysisService(logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{logger: logger}
}

// Flag marks every point strictly above threshold.
func (s *AnalysisService) Flag(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	series, err := seriesFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	thresholdValue, ok := req.GetFields()["threshold"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "threshold is required")
	}
	threshold := thresholdValue.GetNumberValue()
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, status.Error(codes.InvalidArgument, "threshold must be finite")
	}

	mask := anomaly.Flag(series, threshold)
	s.logger.Debug("Flag called", slog.Int("points", mask.Total), slog.Int("flagged", mask.Count))

	flags := make([]any, len(mask.Flags))
	for i, f := range mask.Flags {
		flags[i] = f
	}
	return structpb.NewStruct(map[string]any{
		"flags": flags,
		"count": mask.Count,
		"total": mask.Total,
	})
}

// Window returns the points inside [start, end].
func (s *AnalysisService) Window(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	series, err := seriesFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	start, err := timeField(req, "start")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	end, err := timeField(req, "end")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	windowed := anomaly.WindowedView(series, start, end)
	return structpb.NewStruct(map[string]any{"points": seriesToList(windowed)})
}

func seriesFromStruct(req *structpb.Struct) (anomaly.Series, error) {
	list := req.GetFields()["points"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("points must be a list")
	}
	series := make(anomaly.Series, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		point := v.GetStructValue()
		if point == nil {
			return nil, fmt.Errorf("points[%d] must be an object", i)
		}
		ts, err := timeField(point, "time")
		if err != nil {
			return nil, fmt.Errorf("points[%d]: %w", i, err)
		}
		value := math.NaN()
		if raw, ok := point.GetFields()["value"]; ok {
			if _, isNumber := raw.GetKind().(*structpb.Value_NumberValue); isNumber {
				value = raw.GetNumberValue()
			}
		}
		series = append(series, anomaly.Point{
			Time:  ts,
			Value: value,
			Label: point.GetFields()["label"].GetStringValue(),
		})
	}
	return series, nil
}

func seriesToList(series anomaly.Series) []any {
	out := make([]any, len(series))
	for i, p := range series {
		var value any
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			value = p.Value
		}
		point := map[string]any{
			"time":  p.Time.Format(time.RFC3339Nano),
			"value": value,
		}
		if p.Label != "" {
			point["label"] = p.Label
		}
		out[i] = point
	}
	return out
}

func timeField(s *structpb.Struct, key string) (time.Time, error) {
	raw := s.GetFields()[key].GetStringValue()
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

// RegisterAnalysisServer registers srv on a gRPC server.
func RegisterAnalysisServer(s grpc.ServiceRegistrar, srv AnalysisServer) {
	s.RegisterService(&analysisServiceDesc, srv)
}

var analysisServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalysisServiceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Flag", Handler: analysisFlagHandler},
		{MethodName: "Window", Handler: analysisWindowHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wattlens/v1/analysis.proto",
}

func analysisFlagHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).Flag(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AnalysisServiceName + "/Flag"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).Flag(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func analysisWindowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).Window(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AnalysisServiceName + "/Window"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).Window(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
