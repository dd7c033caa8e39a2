package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/service"
)

const orderDeskService = "posdesk.v1.OrderDesk"

// OrderDeskServer is the cashier and kitchen facing RPC surface. Requests and
// responses are JSON shaped google.protobuf.Struct values.
type OrderDeskServer interface {
	Checkout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLineItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var OrderDeskServiceDesc = grpc.ServiceDesc{
	ServiceName: orderDeskService,
	HandlerType: (*OrderDeskServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: unaryHandler("Checkout", OrderDeskServer.Checkout)},
		{MethodName: "ListPending", Handler: unaryHandler("ListPending", OrderDeskServer.ListPending)},
		{MethodName: "GetLineItems", Handler: unaryHandler("GetLineItems", OrderDeskServer.GetLineItems)},
		{MethodName: "CompleteOrder", Handler: unaryHandler("CompleteOrder", OrderDeskServer.CompleteOrder)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "posdesk/v1/order_desk.proto",
}

func RegisterOrderDeskServer(s grpc.ServiceRegistrar, srv OrderDeskServer) {
	s.RegisterService(&OrderDeskServiceDesc, srv)
}

func unaryHandler(method string, call func(OrderDeskServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + orderDeskService + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderDeskServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderDeskServer), ctx, req.(*structpb.Struct))
		})
	}
}

type GRPCHandler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
	log      *slog.Logger
}

var _ OrderDeskServer = (*GRPCHandler)(nil)

func NewGRPCHandler(checkout *service.CheckoutService, orders *service.OrderService, log *slog.Logger) *GRPCHandler {
	return &GRPCHandler{checkout: checkout, orders: orders, log: log.With("component", "grpc")}
}

type orderRef struct {
	OrderID string `json:"orderId"`
}

// Checkout honours the idempotency-key metadata entry the same way the HTTP
// surface honours the Idempotency-Key header.
func (h *GRPCHandler) Checkout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req domain.CheckoutRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, h.toStatus(ctx, "Checkout", err)
	}
	req.CartID = h.checkout.DefaultCartID()

	var key string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("idempotency-key"); len(v) > 0 {
			key = v[0]
		}
	}

	res, replayed, err := h.checkout.CheckoutOnce(ctx, key, req)
	if err != nil {
		return nil, h.toStatus(ctx, "Checkout", err)
	}
	if replayed {
		_ = grpc.SetHeader(ctx, metadata.Pairs("idempotent-replay", "true"))
	}
	return toStruct(CheckoutResponse{OrderID: res.Order.ID, Status: res.Order.Status, Total: res.Total})
}

func (h *GRPCHandler) ListPending(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	orders, err := h.orders.ListPending(ctx)
	if err != nil {
		return nil, h.toStatus(ctx, "ListPending", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return toStruct(map[string]any{"orders": orders})
}

func (h *GRPCHandler) GetLineItems(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ref orderRef
	if err := fromStruct(in, &ref); err != nil {
		return nil, h.toStatus(ctx, "GetLineItems", err)
	}
	lines, err := h.orders.GetLineItems(ctx, ref.OrderID)
	if err != nil {
		return nil, h.toStatus(ctx, "GetLineItems", err)
	}
	if lines == nil {
		lines = []domain.OrderLine{}
	}
	return toStruct(map[string]any{"lines": lines})
}

func (h *GRPCHandler) CompleteOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var ref orderRef
	if err := fromStruct(in, &ref); err != nil {
		return nil, h.toStatus(ctx, "CompleteOrder", err)
	}
	order, err := h.orders.Complete(ctx, ref.OrderID)
	if err != nil {
		return nil, h.toStatus(ctx, "CompleteOrder", err)
	}
	return toStruct(order)
}

func (h *GRPCHandler) toStatus(ctx context.Context, method string, err error) error {
	kind := domain.KindOf(err)
	if !kind.Exposable() {
		h.log.ErrorContext(ctx, "rpc failed", "method", method, "kind", kind, "error", err)
	}
	return status.Error(codeFor(kind), domain.PublicMessage(err))
}

func codeFor(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindInvalidRequest:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConflict:
		return codes.Aborted
	case domain.KindTimeout:
		return codes.DeadlineExceeded
	case domain.KindUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: unreadable request: %v", domain.ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidRequest)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
