// Package handler exposes the payment ledger over gRPC.
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"securepay/backend/internal/payment/domain"
	paymentservice "securepay/backend/internal/payment/service"
	"securepay/backend/internal/server/interceptors"
	"securepay/backend/internal/server/rpc"
	"securepay/backend/internal/storage"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "securepay.payment.v1.PaymentService"

// Payment is the wire form of a payment. Amount is a decimal string.
type Payment struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ReferenceID string          `json:"reference_id"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}

type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ReferenceID string          `json:"reference_id"`
}

// PaymentRequest names the payment a read or transition applies to.
type PaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

type PaymentResponse struct {
	Payment *Payment `json:"payment"`
}

type ListPaymentsRequest struct{}

type ListPaymentsResponse struct {
	Payments []*Payment `json:"payments"`
}

// Ledger is the payment ledger the handler delegates to.
type Ledger interface {
	Create(ctx context.Context, in paymentservice.CreateInput) (*domain.Payment, error)
	Get(ctx context.Context, paymentID, requesterID string) (*domain.Payment, error)
	List(ctx context.Context, requesterID string) ([]*domain.Payment, error)
	Transition(ctx context.Context, paymentID, requesterID string, t domain.Transition) (*domain.Payment, error)
}

// PaymentServiceServer is the server API of securepay.payment.v1.PaymentService.
type PaymentServiceServer interface {
	CreatePayment(context.Context, *CreatePaymentRequest) (*PaymentResponse, error)
	GetPayment(context.Context, *PaymentRequest) (*PaymentResponse, error)
	ListPayments(context.Context, *ListPaymentsRequest) (*ListPaymentsResponse, error)
	AuthorizePayment(context.Context, *PaymentRequest) (*PaymentResponse, error)
	CapturePayment(context.Context, *PaymentRequest) (*PaymentResponse, error)
	RefundPayment(context.Context, *PaymentRequest) (*PaymentResponse, error)
	FailPayment(context.Context, *PaymentRequest) (*PaymentResponse, error)
}

// ServiceDesc describes PaymentService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "CreatePayment", PaymentServiceServer.CreatePayment),
		rpc.Unary(ServiceName, "GetPayment", PaymentServiceServer.GetPayment),
		rpc.Unary(ServiceName, "ListPayments", PaymentServiceServer.ListPayments),
		rpc.Unary(ServiceName, "AuthorizePayment", PaymentServiceServer.AuthorizePayment),
		rpc.Unary(ServiceName, "CapturePayment", PaymentServiceServer.CapturePayment),
		rpc.Unary(ServiceName, "RefundPayment", PaymentServiceServer.RefundPayment),
		rpc.Unary(ServiceName, "FailPayment", PaymentServiceServer.FailPayment),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "securepay/payment/v1/payment.proto",
}

// Server implements PaymentServiceServer. Every method acts as the authenticated caller.
type Server struct {
	ledger Ledger
}

// NewServer returns a new Payment gRPC server. If ledger is nil, every method returns Unimplemented.
func NewServer(ledger Ledger) *Server {
	return &Server{ledger: ledger}
}

// CreatePayment records a new payment owned by the caller.
func (s *Server) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentResponse, error) {
	if s.ledger == nil {
		return nil, status.Error(codes.Unimplemented, "method CreatePayment not implemented")
	}
	userID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.ledger.Create(ctx, paymentservice.CreateInput{
		OwnerID:     userID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		return nil, paymentErrToStatus(err)
	}
	return &PaymentResponse{Payment: toPayment(p)}, nil
}

// GetPayment returns one of the caller's payments.
func (s *Server) GetPayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	if s.ledger == nil {
		return nil, status.Error(codes.Unimplemented, "method GetPayment not implemented")
	}
	userID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	if req.PaymentID == "" {
		return nil, status.Error(codes.InvalidArgument, "payment_id is required")
	}
	p, err := s.ledger.Get(ctx, req.PaymentID, userID)
	if err != nil {
		return nil, paymentErrToStatus(err)
	}
	return &PaymentResponse{Payment: toPayment(p)}, nil
}

// ListPayments returns the caller's payments, newest first.
func (s *Server) ListPayments(ctx context.Context, _ *ListPaymentsRequest) (*ListPaymentsResponse, error) {
	if s.ledger == nil {
		return nil, status.Error(codes.Unimplemented, "method ListPayments not implemented")
	}
	userID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.ledger.List(ctx, userID)
	if err != nil {
		return nil, paymentErrToStatus(err)
	}
	out := make([]*Payment, 0, len(list))
	for _, p := range list {
		out = append(out, toPayment(p))
	}
	return &ListPaymentsResponse{Payments: out}, nil
}

func (s *Server) AuthorizePayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	return s.transition(ctx, "AuthorizePayment", req, domain.TransitionAuthorize)
}

func (s *Server) CapturePayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	return s.transition(ctx, "CapturePayment", req, domain.TransitionCapture)
}

func (s *Server) RefundPayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	return s.transition(ctx, "RefundPayment", req, domain.TransitionRefund)
}

func (s *Server) FailPayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	return s.transition(ctx, "FailPayment", req, domain.TransitionFail)
}

func (s *Server) transition(ctx context.Context, method string, req *PaymentRequest, t domain.Transition) (*PaymentResponse, error) {
	if s.ledger == nil {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	userID, err := requester(ctx)
	if err != nil {
		return nil, err
	}
	if req.PaymentID == "" {
		return nil, status.Error(codes.InvalidArgument, "payment_id is required")
	}
	p, err := s.ledger.Transition(ctx, req.PaymentID, userID, t)
	if err != nil {
		return nil, paymentErrToStatus(err)
	}
	return &PaymentResponse{Payment: toPayment(p)}, nil
}

func requester(ctx context.Context) (string, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, nil
}

func toPayment(p *domain.Payment) *Payment {
	return &Payment{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		ReferenceID: p.ReferenceID,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Version:     p.Version,
	}
}

// paymentErrToStatus maps ledger errors to gRPC status. A payment the caller may not see and one that
// does not exist are reported distinctly, as the ledger distinguishes them.
func paymentErrToStatus(err error) error {
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		return status.Error(codes.FailedPrecondition, invalid.Error())
	case errors.Is(err, paymentservice.ErrPaymentNotFound):
		return status.Error(codes.NotFound, "payment not found")
	case errors.Is(err, paymentservice.ErrAccessDenied):
		return status.Error(codes.PermissionDenied, "access denied")
	case errors.Is(err, paymentservice.ErrDuplicateReference):
		return status.Error(codes.AlreadyExists, "duplicate reference id")
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidReference), errors.Is(err, paymentservice.ErrInvalidOwner):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, paymentservice.ErrConcurrentModification):
		return status.Error(codes.Aborted, "concurrent modification; retry")
	case errors.Is(err, storage.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, "storage unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
