package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/mapper"
	"github.com/vibast-solutions/ms-go-gateways/app/service"
	"github.com/vibast-solutions/ms-go-gateways/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "gateways.GatewayService"

// GatewayServiceServer exchanges JSON-shaped google.protobuf.Struct messages whose fields
// match the HTTP API bodies.
type GatewayServiceServer interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Charge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCharge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VaultSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChargeSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refund(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Void(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransactionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GatewayServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Health", GatewayServiceServer.Health),
		unaryMethod("Charge", GatewayServiceServer.Charge),
		unaryMethod("GetCharge", GatewayServiceServer.GetCharge),
		unaryMethod("VaultSource", GatewayServiceServer.VaultSource),
		unaryMethod("ChargeSource", GatewayServiceServer.ChargeSource),
		unaryMethod("Refund", GatewayServiceServer.Refund),
		unaryMethod("Void", GatewayServiceServer.Void),
		unaryMethod("GetTransactionStatus", GatewayServiceServer.GetTransactionStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gateways.proto",
}

func RegisterGatewayServiceServer(s grpc.ServiceRegistrar, srv GatewayServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryMethod(name string, call func(GatewayServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GatewayServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(GatewayServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type Server struct {
	gatewayService *service.GatewayService
}

func NewServer(gatewayService *service.GatewayService) *Server {
	return &Server{gatewayService: gatewayService}
}

func (s *Server) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(&types.HealthResponse{Status: "ok"})
}

func (s *Server) Charge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ChargeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	req.RequestId = requestIDOrContext(ctx, req.RequestId)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.gatewayService.Charge(ctx, &req)
	if err != nil {
		return nil, toStatus(ctx, "Charge", err)
	}
	return encode(&types.ChargeEnvelopeResponse{Charge: mapper.ChargeToResponse(item)})
}

func (s *Server) GetCharge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ChargeIDRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.gatewayService.GetCharge(ctx, req.GetChargeId())
	if err != nil {
		return nil, toStatus(ctx, "Get charge", err)
	}
	return encode(&types.ChargeEnvelopeResponse{Charge: mapper.ChargeToResponse(item)})
}

func (s *Server) VaultSource(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.VaultSourceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	req.RequestId = requestIDOrContext(ctx, req.RequestId)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.gatewayService.VaultSource(ctx, &req)
	if err != nil {
		return nil, toStatus(ctx, "Vault source", err)
	}
	return encode(&types.SourceEnvelopeResponse{Source: mapper.SourceToResponse(item)})
}

func (s *Server) ChargeSource(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ChargeSourceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	req.RequestId = requestIDOrContext(ctx, req.RequestId)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.gatewayService.ChargeSource(ctx, &req)
	if err != nil {
		return nil, toStatus(ctx, "Charge source", err)
	}
	return encode(&types.ChargeEnvelopeResponse{Charge: mapper.ChargeToResponse(item)})
}

func (s *Server) Refund(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.RefundChargeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	req.RequestId = requestIDOrContext(ctx, req.RequestId)
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := s.gatewayService.Refund(ctx, &req)
	if err != nil {
		return nil, toStatus(ctx, "Refund", err)
	}
	return encode(&types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(out.Refund, out.States)})
}

func (s *Server) Void(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ChargeIDRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.gatewayService.Void(ctx, req.GetChargeId())
	if err != nil {
		return nil, toStatus(ctx, "Void", err)
	}
	return encode(&types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(item, nil)})
}

func (s *Server) GetTransactionStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.ChargeIDRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := s.gatewayService.GetTransactionStatus(ctx, req.GetChargeId())
	if err != nil {
		return nil, toStatus(ctx, "Get transaction status", err)
	}
	return encode(mapper.TransactionStatusToResponse(req.GetChargeId(), out.Status))
}

func toStatus(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrRefundExceedsRemaining),
		errors.Is(err, service.ErrWebhookRejected):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrMerchantNotFound),
		errors.Is(err, service.ErrChargeNotFound),
		errors.Is(err, service.ErrSourceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrSourceNotChargeable), errors.Is(err, service.ErrAmountMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		loggerWithContext(ctx).WithError(err).Error(op + " failed")
		return status.Error(codes.Internal, "internal server error")
	}
	if gwErr.Retryable {
		return status.Error(codes.Unavailable, gateway.MessageOf(err))
	}

	switch gwErr.Kind {
	case gateway.KindInvalidBankAccount:
		return status.Error(codes.InvalidArgument, gateway.MessageOf(err))
	case gateway.KindCharge, gateway.KindReconciliation:
		return status.Error(codes.Aborted, gateway.MessageOf(err))
	case gateway.KindTransactionStatus:
		return status.Error(codes.Unavailable, gateway.MessageOf(err))
	default:
		return status.Error(codes.FailedPrecondition, gateway.MessageOf(err))
	}
}

func decode(in *structpb.Struct, out interface{}) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request body is required")
	}
	raw, err := in.MarshalJSON()
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid request body")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status.Error(codes.InvalidArgument, "invalid request body")
	}
	return nil
}

func encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

func requestIDOrContext(ctx context.Context, requestID string) string {
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		return requestID
	}
	return RequestIDFromContext(ctx)
}
