// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"net/url"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/navigation"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
	"github.com/xkilldash9x/histcore/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) History() config.HistoryConfig {
	args := m.Called()
	return args.Get(0).(config.HistoryConfig)
}

func (m *MockConfig) TaskQueue() config.TaskQueueConfig {
	args := m.Called()
	return args.Get(0).(config.TaskQueueConfig)
}

func (m *MockConfig) Bus() config.BusConfig {
	args := m.Called()
	return args.Get(0).(config.BusConfig)
}

func (m *MockConfig) Store() config.StoreConfig {
	args := m.Called()
	return args.Get(0).(config.StoreConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetHistoryMaxEntries(n int) {
	m.Called(n)
}

func (m *MockConfig) SetHistoryTraversalTimeout(d time.Duration) {
	m.Called(d)
}

func (m *MockConfig) SetStoreDriver(driver string) {
	m.Called(driver)
}

// -- Document Mock --

// MockDocument mocks navigation.Document.
type MockDocument struct {
	mock.Mock
}

func (m *MockDocument) IsFullyActive() bool       { return m.Called().Bool(0) }
func (m *MockDocument) UnloadCounter() int        { return m.Called().Int(0) }
func (m *MockDocument) IsInitialAboutBlank() bool { return m.Called().Bool(0) }

func (m *MockDocument) Origin() history.Origin {
	args := m.Called()
	return args.Get(0).(history.Origin)
}

func (m *MockDocument) URL() *url.URL {
	args := m.Called()
	if u := args.Get(0); u != nil {
		return u.(*url.URL)
	}
	return nil
}

func (m *MockDocument) NavigableID() history.NavigableID {
	args := m.Called()
	return args.Get(0).(history.NavigableID)
}

func (m *MockDocument) SessionHistoryEntries() ([]*history.SessionHistoryEntry, error) {
	args := m.Called()
	if entries := args.Get(0); entries != nil {
		return entries.([]*history.SessionHistoryEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDocument) ActiveSessionHistoryEntry() *history.SessionHistoryEntry {
	args := m.Called()
	if e := args.Get(0); e != nil {
		return e.(*history.SessionHistoryEntry)
	}
	return nil
}

func (m *MockDocument) SourceSnapshotParams() navigable.SourceSnapshotParams {
	args := m.Called()
	return args.Get(0).(navigable.SourceSnapshotParams)
}

func (m *MockDocument) UpdateEntryState(entry *history.SessionHistoryEntry, state []byte) {
	m.Called(entry, state)
}

func (m *MockDocument) ApplyHistoryStep(ctx context.Context, step int, snapshot *navigable.SourceSnapshotParams, navType schemas.NavigationType) (navigable.HistoryApplicationResult, error) {
	args := m.Called(ctx, step, snapshot, navType)
	return args.Get(0).(navigable.HistoryApplicationResult), args.Error(1)
}

// AppendTraversalSteps runs task inline when the expectation returns no
// error, so tests can drive the traversal synchronously.
func (m *MockDocument) AppendTraversalSteps(label string, task taskqueue.Task) error {
	args := m.Called(label, task)
	if err := args.Error(0); err != nil {
		return err
	}
	task(context.Background())
	return nil
}

func (m *MockDocument) Navigate(ctx context.Context, params navigation.NavigateParams) error {
	return m.Called(ctx, params).Error(0)
}

func (m *MockDocument) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDocument) Observe(obs navigable.Observer, taskSource *taskqueue.Queue) func() {
	args := m.Called(obs, taskSource)
	if fn := args.Get(0); fn != nil {
		return fn.(func())
	}
	return func() {}
}

// -- Unload Guard Mock --

// MockUnloadGuard mocks navigable.UnloadGuard.
type MockUnloadGuard struct {
	mock.Mock
}

func (m *MockUnloadGuard) UnloadCanceled(ctx context.Context, id history.NavigableID, target *history.SessionHistoryEntry) bool {
	return m.Called(ctx, id, target).Bool(0)
}
