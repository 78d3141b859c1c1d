package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

const OrderServiceName = "storefront.orders.v1.OrderService"

// OrderServer is the RPC surface of the order core. Messages are the same
// JSON shapes the HTTP API uses.
type OrderServer interface {
	Checkout(context.Context, *CheckoutRequest) (*OrderResponse, error)
	CreateManualOrder(context.Context, *ManualOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderResponse, error)
	AdvanceFulfillment(context.Context, *AdvanceFulfillmentRequest) (*OrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderResponse, error)
	RecordPayment(context.Context, *RecordPaymentRequest) (*OrderResponse, error)
}

type GRPCHandler struct {
	orders *service.OrderService
	logger *zap.Logger
}

func NewGRPCHandler(orders *service.OrderService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{orders: orders, logger: logger}
}

// RegisterOrderServer attaches srv to a gRPC server.
func RegisterOrderServer(s grpc.ServiceRegistrar, srv OrderServer) {
	s.RegisterService(&orderServiceDesc, srv)
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*OrderResponse, error) {
	declared, err := parseDeclaredTotal(req.DeclaredTotal)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "declared_total is not a number")
	}
	view, err := h.orders.Checkout(ctx, service.OnlineCheckoutRequest{
		CustomerID:    req.CustomerID,
		AddressID:     req.AddressID,
		Items:         toItems(req.Items),
		DeclaredTotal: declared,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderResponse(view), nil
}

func (h *GRPCHandler) CreateManualOrder(ctx context.Context, req *ManualOrderRequest) (*OrderResponse, error) {
	view, err := h.orders.CreateManualOrder(ctx, req.toService())
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderResponse(view), nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	actor, err := grpcActor(req.ActorID, req.Staff)
	if err != nil {
		return nil, err
	}
	view, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	if !canView(actor, view) {
		return nil, status.Errorf(codes.NotFound, "%s: %s", service.ErrOrderNotFound, view.ID)
	}
	return toOrderResponse(view), nil
}

func (h *GRPCHandler) AdvanceFulfillment(ctx context.Context, req *AdvanceFulfillmentRequest) (*OrderResponse, error) {
	actor, err := grpcActor(req.StaffID, true)
	if err != nil {
		return nil, err
	}
	view, err := h.orders.AdvanceFulfillment(ctx, service.AdvanceFulfillmentCommand{
		OrderID: req.OrderID,
		Target:  domain.FulfillmentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Actor:   actor,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderResponse(view), nil
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	actor, err := grpcActor(req.ActorID, req.Staff)
	if err != nil {
		return nil, err
	}
	view, err := h.orders.CancelOrder(ctx, service.CancelOrderCommand{
		OrderID: req.OrderID,
		Actor:   actor,
		Restock: req.Restock,
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderResponse(view), nil
}

func (h *GRPCHandler) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*OrderResponse, error) {
	actor, err := grpcActor(req.StaffID, true)
	if err != nil {
		return nil, err
	}
	view, err := h.orders.RecordPayment(ctx, service.RecordPaymentCommand{
		OrderID:   req.OrderID,
		Status:    domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Reference: req.Reference,
		Actor:     actor,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderResponse(view), nil
}

func (h *GRPCHandler) toStatus(err error) error {
	m, msg := classify(err)
	if m.grpc == codes.Internal {
		h.logger.Error("rpc failed", zap.Error(err))
	}
	return status.Error(m.grpc, msg)
}

func grpcActor(id string, staff bool) (domain.Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "actor id is required")
	}
	if staff {
		return domain.Actor{Kind: domain.ActorStaff, ID: id}, nil
	}
	return domain.Actor{Kind: domain.ActorCustomer, ID: id}, nil
}

// unary adapts a typed method to the generic gRPC handler signature,
// running any configured interceptor chain.
func unary[Req, Resp any](name string, call func(OrderServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + OrderServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(OrderServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Checkout", OrderServer.Checkout),
		unary("CreateManualOrder", OrderServer.CreateManualOrder),
		unary("GetOrder", OrderServer.GetOrder),
		unary("AdvanceFulfillment", OrderServer.AdvanceFulfillment),
		unary("CancelOrder", OrderServer.CancelOrder),
		unary("RecordPayment", OrderServer.RecordPayment),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/orders/v1/orders.json",
}

// OrderClient calls the order service over a connection using the JSON codec.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

func (c *OrderClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+OrderServiceName+"/"+method, in, out, opts...)
}

func (c *OrderClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "Checkout", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) CreateManualOrder(ctx context.Context, in *ManualOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "CreateManualOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "GetOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) AdvanceFulfillment(ctx context.Context, in *AdvanceFulfillmentRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "AdvanceFulfillment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "CancelOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) RecordPayment(ctx context.Context, in *RecordPaymentRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "RecordPayment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
