package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Unary declares a unary method of service whose implementation S handles Req and returns Resp.
// The returned MethodDesc decodes the request, runs the interceptor chain, and dispatches to call.
func Unary[S any, Req any, Resp any](service, name string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

// FullMethod returns the gRPC path of a method.
func FullMethod(service, name string) string {
	return "/" + service + "/" + name
}

// Invoke calls a unary method over conn using the JSON codec.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, in, out any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return conn.Invoke(ctx, fullMethod, in, out, opts...)
}
