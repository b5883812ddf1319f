package output

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSink mocks the Sink interface.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) AppendOutput(ctx context.Context, id, output string) error {
	args := m.Called(ctx, id, output)
	return args.Error(0)
}
