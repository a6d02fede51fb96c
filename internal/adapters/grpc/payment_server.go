package grpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nutripay/internal/payments"
	"nutripay/internal/payments/saga"
)

// PaymentService defines the behavior needed by the gRPC adapter.
type PaymentService interface {
	Purchase(ctx context.Context, req payments.PurchaseRequest) (payments.Outcome, error)
	RetryActivation(ctx context.Context, userID, referenceID string) (payments.Outcome, error)
}

// PaymentServer adapts PaymentService to gRPC.
type PaymentServer struct {
	service PaymentService
	logger  *zap.Logger
}

// NewPaymentServer constructs a PaymentServer.
func NewPaymentServer(svc PaymentService, logger *zap.Logger) *PaymentServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentServer{service: svc, logger: logger}
}

func (s *PaymentServer) Purchase(ctx context.Context, req *PurchaseRequest) (*OutcomeResponse, error) {
	out, err := s.service.Purchase(ctx, req.toDomain())
	if err != nil {
		return nil, s.mapError("Purchase", err)
	}
	return newOutcomeResponse(out), nil
}

func (s *PaymentServer) RetryActivation(ctx context.Context, req *RetryActivationRequest) (*OutcomeResponse, error) {
	if req.UserID == "" || req.ReferenceID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and reference_id are required")
	}
	out, err := s.service.RetryActivation(ctx, req.UserID, req.ReferenceID)
	if err != nil {
		return nil, s.mapError("RetryActivation", err)
	}
	return newOutcomeResponse(out), nil
}

func (s *PaymentServer) mapError(method string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, payments.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, payments.ErrPurchaseInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, saga.ErrNotFound):
		return status.Error(codes.NotFound, "transaction not found")
	case errors.Is(err, payments.ErrNotCommitted):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	s.logger.Error("grpc.internal_error", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
