package solver

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName            = "railway_optimization.OptimizationService"
	OptimizeScheduleMethod = "/" + ServiceName + "/OptimizeSchedule"
	SimulateScenarioMethod = "/" + ServiceName + "/SimulateScenario"
)

// Client is a thin typed wrapper over a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) OptimizeSchedule(ctx context.Context, req *OptimizationRequest) (*OptimizationResponse, error) {
	out := new(OptimizationResponse)
	if err := c.cc.Invoke(ctx, OptimizeScheduleMethod, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SimulateScenario(ctx context.Context, req *SimulationRequest) (*SimulationResponse, error) {
	out := new(SimulationResponse)
	if err := c.cc.Invoke(ctx, SimulateScenarioMethod, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// Server is implemented by anything that can answer solver calls in-process.
type Server interface {
	OptimizeSchedule(ctx context.Context, req *OptimizationRequest) (*OptimizationResponse, error)
	SimulateScenario(ctx context.Context, req *SimulationRequest) (*SimulationResponse, error)
}

func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OptimizeSchedule", Handler: optimizeScheduleHandler},
		{MethodName: "SimulateScenario", Handler: simulateScenarioHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "railway_optimization.proto",
}

func optimizeScheduleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(OptimizationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).OptimizeSchedule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OptimizeScheduleMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(Server).OptimizeSchedule(ctx, req.(*OptimizationRequest))
	})
}

func simulateScenarioHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SimulationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).SimulateScenario(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SimulateScenarioMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(Server).SimulateScenario(ctx, req.(*SimulationRequest))
	})
}
