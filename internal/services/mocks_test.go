package services

import (
	"context"
	"encoding/json"

	"github.com/lojacraft/backend/internal/gameserver"
	"github.com/lojacraft/backend/internal/models"
	"github.com/lojacraft/backend/internal/payments"
	"github.com/stretchr/testify/mock"
)

type MockGameServer struct {
	mock.Mock
}

func (m *MockGameServer) GetStatus(ctx context.Context) (*gameserver.ServerStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameserver.ServerStatus), args.Error(1)
}

func (m *MockGameServer) IsOnline(ctx context.Context, identity string) (*gameserver.PlayerInfo, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameserver.PlayerInfo), args.Error(1)
}

func (m *MockGameServer) Deliver(ctx context.Context, identity string, grantType string, payload json.RawMessage, transactionID string) (*gameserver.DeliverResult, error) {
	args := m.Called(ctx, identity, grantType, payload, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gameserver.DeliverResult), args.Error(1)
}

func (m *MockGameServer) Kick(ctx context.Context, identity, reason string) (bool, error) {
	args := m.Called(ctx, identity, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockGameServer) SendMessage(ctx context.Context, identity, text string) (bool, error) {
	args := m.Called(ctx, identity, text)
	return args.Bool(0), args.Error(1)
}

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, grant *models.Grant) (*DeliveryResult, error) {
	args := m.Called(ctx, grant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DeliveryResult), args.Error(1)
}

type MockFulfiller struct {
	mock.Mock
}

func (m *MockFulfiller) Fulfill(ctx context.Context, transactionID string) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

type MockPaymentClient struct {
	mock.Mock
}

func (m *MockPaymentClient) CreateCharge(ctx context.Context, amount int64, description, externalRef string, customer payments.Customer) (*payments.Charge, error) {
	args := m.Called(ctx, amount, description, externalRef, customer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

func (m *MockPaymentClient) GetChargeStatus(ctx context.Context, paymentID string) (*payments.ChargeState, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.ChargeState), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, event *payments.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
