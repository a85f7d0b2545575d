package downstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/proxy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The downstream gRPC contract is a single unary method whose request and
// response are google.protobuf.Struct values:
//
//	request:  {method, path, raw_path, query: {k: [v]}, headers: {k: [v]}, body: base64}
//	response: {status, headers: {k: [v]}, body: base64}
const (
	grpcServiceName  = "hitcounter.v1.Downstream"
	grpcInvokeMethod = "/" + grpcServiceName + "/Invoke"
)

// GRPC forwards requests to a remote downstream service
type GRPC struct {
	Address string
	conn    *grpc.ClientConn
}

// NewGRPC creates a client for the downstream at address. Without options
// the connection is plaintext.
func NewGRPC(address string, opts ...grpc.DialOption) (*GRPC, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	// grpc.NewClient connects lazily, on the first call
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, err
	}

	return &GRPC{
		Address: address,
		conn:    conn,
	}, nil
}

func (g *GRPC) ServeRequest(ctx context.Context, req *proxy.Request) (*proxy.Response, error) {
	in, err := encodeGRPCRequest(req)
	if err != nil {
		return nil, err
	}
	if id := logger.RequestID(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", id)
	}

	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, grpcInvokeMethod, in, out); err != nil {
		return nil, err
	}
	return decodeGRPCResponse(out)
}

// Close terminates the connection
func (g *GRPC) Close() error {
	return g.conn.Close()
}

// RegisterGRPC serves h as the downstream service on s
func RegisterGRPC(s grpc.ServiceRegistrar, h proxy.Handler) {
	s.RegisterService(&grpcServiceDesc, &grpcServer{handler: h})
}

type downstreamServer interface {
	invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type grpcServer struct {
	handler proxy.Handler
}

func (s *grpcServer) invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeGRPCRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.handler.ServeRequest(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if resp == nil {
		return nil, status.Error(codes.Internal, "handler returned no response")
	}
	out, err := encodeGRPCResponse(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(downstreamServer).invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: grpcInvokeMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(downstreamServer).invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*downstreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hitcounter/v1/downstream.proto",
}

func encodeGRPCRequest(req *proxy.Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"method":   req.Method,
		"path":     req.Path,
		"raw_path": req.RawPath,
		"query":    multiMap(req.Query),
		"headers":  multiMap(req.Headers),
		"body":     base64.StdEncoding.EncodeToString(req.Body),
	})
}

func decodeGRPCRequest(s *structpb.Struct) (*proxy.Request, error) {
	f := s.GetFields()
	body, err := base64.StdEncoding.DecodeString(f["body"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	req := &proxy.Request{
		Method:  f["method"].GetStringValue(),
		Path:    f["path"].GetStringValue(),
		RawPath: f["raw_path"].GetStringValue(),
		Headers: http.Header(fromMultiMap(f["headers"])),
		Body:    body,
	}
	if q := fromMultiMap(f["query"]); q != nil {
		req.Query = url.Values(q)
	}
	return req, nil
}

func encodeGRPCResponse(resp *proxy.Response) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"status":  resp.StatusCode,
		"headers": multiMap(resp.Headers),
		"body":    base64.StdEncoding.EncodeToString(resp.Body),
	})
}

func decodeGRPCResponse(s *structpb.Struct) (*proxy.Response, error) {
	f := s.GetFields()
	body, err := base64.StdEncoding.DecodeString(f["body"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode downstream body: %w", err)
	}
	code := int(f["status"].GetNumberValue())
	if code < 100 || code > 999 {
		return nil, fmt.Errorf("downstream returned invalid status %d", code)
	}
	return &proxy.Response{
		StatusCode: code,
		Headers:    http.Header(fromMultiMap(f["headers"])),
		Body:       body,
	}, nil
}

// multiMap converts header-like maps into the shape structpb accepts
func multiMap[M ~map[string][]string](m M) map[string]any {
	out := make(map[string]any, len(m))
	for k, vv := range m {
		list := make([]any, len(vv))
		for i, v := range vv {
			list[i] = v
		}
		out[k] = list
	}
	return out
}

func fromMultiMap(v *structpb.Value) map[string][]string {
	fields := v.GetStructValue().GetFields()
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string][]string, len(fields))
	for k, lv := range fields {
		for _, item := range lv.GetListValue().GetValues() {
			out[k] = append(out[k], item.GetStringValue())
		}
	}
	return out
}
