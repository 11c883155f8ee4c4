package certmanager

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/devstack-core/secrets-provisioning/interfaces"
)

// MockRestarter mocks the Restarter interface
type MockRestarter struct {
	mock.Mock
}

// Restart mocks the Restart method
func (m *MockRestarter) Restart(ctx context.Context, service interfaces.ServiceName) error {
	args := m.Called(ctx, service)
	return args.Error(0)
}
