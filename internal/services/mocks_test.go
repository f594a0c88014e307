package services

import (
	"context"

	"github.com/stablebook/backend/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockPackageRegistry struct {
	mock.Mock
}

func (m *MockPackageRegistry) PackageByID(id int64) (*models.LiveryPackage, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LiveryPackage), args.Error(1)
}

type MockHorseRegistry struct {
	mock.Mock
}

func (m *MockHorseRegistry) ActiveLiveries(period models.Period) ([]models.HorseLivery, error) {
	args := m.Called(period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.HorseLivery), args.Error(1)
}

type MockIdentityDirectory struct {
	mock.Mock
}

func (m *MockIdentityDirectory) Holder(accountID string) (models.AccountHolder, error) {
	args := m.Called(accountID)
	return args.Get(0).(models.AccountHolder), args.Error(1)
}

type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(inv *models.Invoice) (string, error) {
	args := m.Called(inv)
	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event BillingEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// nopNotifier suits tests that exercise fire-and-forget paths without
// caring about the events.
type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, BillingEvent) error { return nil }
