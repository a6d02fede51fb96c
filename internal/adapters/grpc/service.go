package grpc

import (
	"context"

	grpcpkg "google.golang.org/grpc"
)

const (
	ServiceName = "nutripay.payments.v1.PaymentService"

	purchaseMethod        = "/" + ServiceName + "/Purchase"
	retryActivationMethod = "/" + ServiceName + "/RetryActivation"
)

// PaymentServiceServer is the server API for PaymentService.
type PaymentServiceServer interface {
	Purchase(ctx context.Context, req *PurchaseRequest) (*OutcomeResponse, error)
	RetryActivation(ctx context.Context, req *RetryActivationRequest) (*OutcomeResponse, error)
}

// RegisterPaymentServiceServer registers srv on s.
func RegisterPaymentServiceServer(s grpcpkg.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&paymentServiceDesc, srv)
}

var paymentServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpcpkg.MethodDesc{
		{MethodName: "Purchase", Handler: purchaseHandler},
		{MethodName: "RetryActivation", Handler: retryActivationHandler},
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "nutripay/payments/v1/payment_service",
}

func purchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
	in := new(PurchaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).Purchase(ctx, in)
	}
	info := &grpcpkg.UnaryServerInfo{Server: srv, FullMethod: purchaseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).Purchase(ctx, req.(*PurchaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func retryActivationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
	in := new(RetryActivationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).RetryActivation(ctx, in)
	}
	info := &grpcpkg.UnaryServerInfo{Server: srv, FullMethod: retryActivationMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).RetryActivation(ctx, req.(*RetryActivationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PaymentServiceClient calls PaymentService with the json codec.
type PaymentServiceClient struct {
	cc grpcpkg.ClientConnInterface
}

// NewPaymentServiceClient wraps cc.
func NewPaymentServiceClient(cc grpcpkg.ClientConnInterface) *PaymentServiceClient {
	return &PaymentServiceClient{cc: cc}
}

func (c *PaymentServiceClient) Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpcpkg.CallOption) (*OutcomeResponse, error) {
	out := new(OutcomeResponse)
	opts = append([]grpcpkg.CallOption{grpcpkg.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, purchaseMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PaymentServiceClient) RetryActivation(ctx context.Context, in *RetryActivationRequest, opts ...grpcpkg.CallOption) (*OutcomeResponse, error) {
	out := new(OutcomeResponse)
	opts = append([]grpcpkg.CallOption{grpcpkg.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, retryActivationMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
