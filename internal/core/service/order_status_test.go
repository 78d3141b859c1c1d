package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var staff = domain.Actor{Kind: domain.ActorStaff, ID: "staff-1"}

func placeOrder(t *testing.T, env *testEnv) *domain.OrderView {
	t.Helper()
	view, err := env.svc.Checkout(context.Background(), checkoutRequest("cust-1", "addr-1",
		OrderItem{ProductID: "A", Quantity: 2},
		OrderItem{ProductID: "B", Quantity: 1},
	))
	require.NoError(t, err)
	return view
}

func advance(t *testing.T, env *testEnv, id string, targets ...domain.FulfillmentStatus) {
	t.Helper()
	for _, target := range targets {
		_, err := env.svc.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{OrderID: id, Target: target, Actor: staff})
		require.NoError(t, err)
	}
}

func TestAdvanceFulfillment_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	advance(t, env, order.ID, domain.FulfillmentPreparing, domain.FulfillmentShipped, domain.FulfillmentDelivered)

	view, err := env.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentDelivered, view.FulfillmentStatus)
	assert.Equal(t, domain.PaymentPending, view.PaymentStatus)
}

func TestAdvanceFulfillment_RejectsSkips(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	_, err := env.svc.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID: order.ID, Target: domain.FulfillmentDelivered, Actor: staff,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	view, _ := env.svc.GetOrder(context.Background(), order.ID)
	assert.Equal(t, domain.FulfillmentPending, view.FulfillmentStatus)
}

func TestAdvanceFulfillment_UnknownStatusIsInvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	for _, target := range []domain.FulfillmentStatus{"", "LOST", "shipped"} {
		_, err := env.svc.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
			OrderID: order.ID, Target: target, Actor: staff,
		})
		require.ErrorIs(t, err, ErrInvalidRequest, "target %q", target)
		assert.NotErrorIs(t, err, ErrInvalidTransition)
	}

	view, _ := env.svc.GetOrder(context.Background(), order.ID)
	assert.Equal(t, domain.FulfillmentPending, view.FulfillmentStatus)
}

func TestCancelOrder_ByStage(t *testing.T) {
	tests := []struct {
		name    string
		path    []domain.FulfillmentStatus
		wantErr error
	}{
		{name: "pending", path: nil},
		{name: "preparing", path: []domain.FulfillmentStatus{domain.FulfillmentPreparing}},
		{name: "shipped", path: []domain.FulfillmentStatus{domain.FulfillmentPreparing, domain.FulfillmentShipped}},
		{name: "delivered", path: []domain.FulfillmentStatus{domain.FulfillmentPreparing, domain.FulfillmentShipped, domain.FulfillmentDelivered}, wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			order := placeOrder(t, env)
			advance(t, env, order.ID, tt.path...)

			view, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: staff})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.FulfillmentCancelled, view.FulfillmentStatus)
			assert.Equal(t, domain.PaymentPending, view.PaymentStatus)
		})
	}
}

func TestCancelOrder_CancelledIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: staff})
	require.NoError(t, err)

	_, err = env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: staff})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{OrderID: order.ID, Target: domain.FulfillmentPreparing, Actor: staff})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelOrder_WithoutRestockKeepsStock(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: staff})
	require.NoError(t, err)

	assert.Equal(t, 98, env.stock(t, "A"))
	assert.Len(t, env.movements(t, "A"), 1)
}

func TestCancelOrder_Restock(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: staff, Restock: true})
	require.NoError(t, err)

	assert.Equal(t, 100, env.stock(t, "A"))
	assert.Equal(t, 50, env.stock(t, "B"))

	mvs := env.movements(t, "A")
	require.Len(t, mvs, 2)
	assert.Equal(t, domain.MovementIn, mvs[0].Direction)
	assert.Equal(t, 2, mvs[0].Quantity)
	assert.Equal(t, order.ID, mvs[0].OrderID)
	assert.Equal(t, "staff-1", mvs[0].ActorID)
}

func TestCancelOrder_CustomerRules(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)
	ctx := context.Background()

	stranger := domain.Actor{Kind: domain.ActorCustomer, ID: "cust-2"}
	_, err := env.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Actor: stranger})
	require.ErrorIs(t, err, ErrForbiddenTransition)

	owner := domain.Actor{Kind: domain.ActorCustomer, ID: "cust-1"}
	_, err = env.svc.AdvanceFulfillment(ctx, AdvanceFulfillmentCommand{OrderID: order.ID, Target: domain.FulfillmentPreparing, Actor: owner})
	require.ErrorIs(t, err, ErrForbiddenTransition)

	view, err := env.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Actor: owner})
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentCancelled, view.FulfillmentStatus)
}

func TestCancelOrder_CustomerRestockIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	owner := domain.Actor{Kind: domain.ActorCustomer, ID: "cust-1"}
	view, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: owner, Restock: true})
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentCancelled, view.FulfillmentStatus)

	assert.Equal(t, 98, env.stock(t, "A"))
	assert.Len(t, env.movements(t, "A"), 1)
}

func TestCancelOrder_CustomerCannotCancelPreparing(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)
	advance(t, env, order.ID, domain.FulfillmentPreparing)

	owner := domain.Actor{Kind: domain.ActorCustomer, ID: "cust-1"}
	_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: owner})
	require.ErrorIs(t, err, ErrForbiddenTransition)
}

func TestRecordPayment(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)
	ctx := context.Background()
	bridge := domain.Actor{Kind: domain.ActorPaymentBridge, ID: "stripe"}

	view, err := env.svc.RecordPayment(ctx, RecordPaymentCommand{OrderID: order.ID, Status: domain.PaymentPaid, Reference: "pi_1", Actor: bridge})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, view.PaymentStatus)
	assert.Equal(t, "pi_1", view.PaymentReference)
	assert.Equal(t, domain.FulfillmentPending, view.FulfillmentStatus)

	// redelivery of the same outcome is a no-op
	view, err = env.svc.RecordPayment(ctx, RecordPaymentCommand{OrderID: order.ID, Status: domain.PaymentPaid, Actor: bridge})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, view.PaymentStatus)

	_, err = env.svc.RecordPayment(ctx, RecordPaymentCommand{OrderID: order.ID, Status: domain.PaymentFailed, Actor: bridge})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecordPayment_FailedLeavesFulfillment(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)

	view, err := env.svc.RecordPayment(context.Background(), RecordPaymentCommand{
		OrderID: order.ID, Status: domain.PaymentFailed, Actor: domain.SystemActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, view.PaymentStatus)
	assert.Equal(t, domain.FulfillmentPending, view.FulfillmentStatus)
	assert.Equal(t, 98, env.stock(t, "A"))
}

func TestRecordPayment_ActorRules(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env)
	ctx := context.Background()

	_, err := env.svc.RecordPayment(ctx, RecordPaymentCommand{OrderID: order.ID, Status: domain.PaymentPaid, Actor: domain.Actor{Kind: domain.ActorCustomer, ID: "cust-1"}})
	require.ErrorIs(t, err, ErrForbiddenTransition)

	_, err = env.svc.RecordPayment(ctx, RecordPaymentCommand{OrderID: order.ID, Status: domain.PaymentPaid, Actor: domain.SystemActor()})
	require.ErrorIs(t, err, ErrForbiddenTransition)

	_, err = env.svc.RecordPayment(ctx, RecordPaymentCommand{OrderID: order.ID, Status: domain.PaymentPending, Actor: staff})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestTransition_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "missing", Actor: staff})
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = env.svc.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}
