package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lojacraft/backend/internal/gameserver"
	"github.com/lojacraft/backend/internal/models"
	"github.com/lojacraft/backend/internal/services"
	"github.com/stretchr/testify/assert"
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

func newTestHandler(t *testing.T) (*AdminHandler, sqlmock.Sqlmock, *MockGameServer, func()) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	server := new(MockGameServer)
	ledger := services.NewLedgerService(db)
	delivery := services.NewDeliveryService(db, ledger, server)
	fulfillment := services.NewFulfillmentService(db, ledger, delivery, nil)
	handler := NewAdminHandler(ledger, fulfillment, delivery, server)

	return handler, dbMock, server, func() { db.Close() }
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), "userID", 7)
	ctx = context.WithValue(ctx, "role", "admin")
	return req.WithContext(ctx)
}

func TestAdminHandler_CreateGrant(t *testing.T) {
	t.Run("invalid grant type rejected", func(t *testing.T) {
		handler, _, _, cleanup := newTestHandler(t)
		defer cleanup()

		req := adminRequest(http.MethodPost, "/admin/grants",
			`{"userId":42,"type":"LOOTBOX","payload":{}}`)
		rec := httptest.NewRecorder()

		handler.CreateGrant(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed payload rejected by the ledger", func(t *testing.T) {
		handler, _, _, cleanup := newTestHandler(t)
		defer cleanup()

		req := adminRequest(http.MethodPost, "/admin/grants",
			`{"userId":42,"type":"CURRENCY","payload":{"amount":-10}}`)
		rec := httptest.NewRecorder()

		handler.CreateGrant(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "payload rejected")
	})
}

func TestAdminHandler_GetQueue(t *testing.T) {
	handler, dbMock, _, cleanup := newTestHandler(t)
	defer cleanup()

	dbMock.ExpectQuery("SELECT id, transaction_id, user_id, grant_type, payload, status, issued_by, created_at FROM grants WHERE status = \\$1").
		WithArgs(models.GrantPending, 500).
		WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "user_id", "grant_type", "payload", "status", "issued_by", "created_at"}).
			AddRow("g-1", "tx-1", 42, "ITEM", []byte(`{"itemId":"sword","quantity":1}`), "PENDING", nil, time.Now()))

	req := adminRequest(http.MethodGet, "/admin/queue", "")
	rec := httptest.NewRecorder()

	handler.GetQueue(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), "g-1")
}

func TestAdminHandler_DeliverGrant(t *testing.T) {
	t.Run("already delivered grant conflicts", func(t *testing.T) {
		handler, dbMock, _, cleanup := newTestHandler(t)
		defer cleanup()

		dbMock.ExpectQuery("SELECT id, transaction_id, user_id, grant_type, payload, status, issued_by, created_at FROM grants WHERE id = \\$1").
			WithArgs("g-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "user_id", "grant_type", "payload", "status", "issued_by", "created_at"}).
				AddRow("g-1", "tx-1", 42, "ITEM", []byte(`{"itemId":"sword","quantity":1}`), "DELIVERED", nil, time.Now()))

		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("grantId", "g-1")
		req := adminRequest(http.MethodPost, "/admin/grants/g-1/deliver", "")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		rec := httptest.NewRecorder()

		handler.DeliverGrant(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown grant not found", func(t *testing.T) {
		handler, dbMock, _, cleanup := newTestHandler(t)
		defer cleanup()

		dbMock.ExpectQuery("SELECT id, transaction_id, user_id, grant_type, payload, status, issued_by, created_at FROM grants WHERE id = \\$1").
			WithArgs("ghost").
			WillReturnError(errNoRows())

		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("grantId", "ghost")
		req := adminRequest(http.MethodPost, "/admin/grants/ghost/deliver", "")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		rec := httptest.NewRecorder()

		handler.DeliverGrant(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminHandler_ServerStatus(t *testing.T) {
	t.Run("reachable server", func(t *testing.T) {
		handler, _, server, cleanup := newTestHandler(t)
		defer cleanup()

		server.On("GetStatus", mock.Anything).
			Return(&gameserver.ServerStatus{Online: true, CurrentPlayers: 12, MaxPlayers: 100}, nil).Once()

		req := adminRequest(http.MethodGet, "/admin/server/status", "")
		rec := httptest.NewRecorder()

		handler.ServerStatus(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"currentPlayers":12`)
	})

	t.Run("unreachable server", func(t *testing.T) {
		handler, _, server, cleanup := newTestHandler(t)
		defer cleanup()

		server.On("GetStatus", mock.Anything).Return(nil, assert.AnError).Once()

		req := adminRequest(http.MethodGet, "/admin/server/status", "")
		rec := httptest.NewRecorder()

		handler.ServerStatus(rec, req)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func errNoRows() error {
	return sql.ErrNoRows
}
