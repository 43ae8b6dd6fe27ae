package chathub_test

import (
	"context"
	"encoding/json"

	"matchgogo/backend/internal/calls"
	"matchgogo/backend/internal/chat"
	"matchgogo/backend/internal/matching"
	"matchgogo/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockInterests struct {
	mock.Mock
}

func (m *MockInterests) RecordInterestWithRetry(ctx context.Context, from, to string) (matching.Result, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(matching.Result), args.Error(1)
}

type MockCalls struct {
	mock.Mock
}

func (m *MockCalls) Initiate(ctx context.Context, callerID, receiverID string, callType models.CallType) (calls.InitiateResult, error) {
	args := m.Called(ctx, callerID, receiverID, callType)
	return args.Get(0).(calls.InitiateResult), args.Error(1)
}

func (m *MockCalls) Accept(ctx context.Context, id, by string) (models.CallSession, error) {
	args := m.Called(ctx, id, by)
	return args.Get(0).(models.CallSession), args.Error(1)
}

func (m *MockCalls) Decline(ctx context.Context, id, by string) (models.CallSession, error) {
	args := m.Called(ctx, id, by)
	return args.Get(0).(models.CallSession), args.Error(1)
}

func (m *MockCalls) End(ctx context.Context, id, by string) (models.CallSession, error) {
	args := m.Called(ctx, id, by)
	return args.Get(0).(models.CallSession), args.Error(1)
}

func (m *MockCalls) RelaySignal(ctx context.Context, id, from, kind string, payload json.RawMessage) (int, error) {
	args := m.Called(ctx, id, from, kind, payload)
	return args.Int(0), args.Error(1)
}

func (m *MockCalls) Bind(id, identity, connID string) {
	m.Called(id, identity, connID)
}

type MockChat struct {
	mock.Mock
}

func (m *MockChat) Send(ctx context.Context, from string, out chat.Outgoing) (models.ChatMessage, error) {
	args := m.Called(ctx, from, out)
	return args.Get(0).(models.ChatMessage), args.Error(1)
}
