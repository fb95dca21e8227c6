// File: internal/mocks/mocks_test.go
package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/navigation"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
	"github.com/xkilldash9x/histcore/internal/config"
)

var (
	_ config.Interface      = (*MockConfig)(nil)
	_ navigation.Document   = (*MockDocument)(nil)
	_ navigable.UnloadGuard = (*MockUnloadGuard)(nil)
)

func TestMockConfigReturnsConfiguredSections(t *testing.T) {
	m := new(MockConfig)
	m.On("History").Return(config.HistoryConfig{MaxEntries: 50})
	m.On("SetStoreDriver", "sqlite").Return()

	assert.Equal(t, 50, m.History().MaxEntries)
	m.SetStoreDriver("sqlite")
	m.AssertExpectations(t)
}

func TestMockDocumentRunsTraversalSteps(t *testing.T) {
	m := new(MockDocument)
	m.On("AppendTraversalSteps", "label", mock.Anything).Return(nil)

	ran := false
	err := m.AppendTraversalSteps("label", func(_ context.Context) { ran = true })
	assert.NoError(t, err)
	assert.True(t, ran)

	m.On("Observe", nil, (*taskqueue.Queue)(nil)).Return(nil)
	stop := m.Observe(nil, nil)
	assert.NotNil(t, stop)
	m.AssertExpectations(t)
}
