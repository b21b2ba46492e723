package client

import (
	"sync"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	config map[string]string
	dir    string

	// Error injection
	getConfigErr    error
	setConfigErr    error
	deleteConfigErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config: make(map[string]string),
		dir:    "/tmp/mock-state",
	}
}

// SetStateDir changes the directory reported by GetStateDir
func (s *MockState) SetStateDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}

	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}

	s.config[key] = value
	return nil
}

// DeleteConfig removes a configuration value
func (s *MockState) DeleteConfig(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleteConfigErr != nil {
		return s.deleteConfigErr
	}

	delete(s.config, key)
	return nil
}

// GetStateDir returns the directory where state is stored
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close closes the mock state (no-op for in-memory)
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetDeleteConfigError sets an error to return from DeleteConfig()
func (s *MockState) SetDeleteConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteConfigErr = err
}

// GetAllConfig returns all config (for testing)
func (s *MockState) GetAllConfig() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range s.config {
		result[k] = v
	}
	return result
}

// Verify that MockState implements StateInterface
var _ StateInterface = (*MockState)(nil)
