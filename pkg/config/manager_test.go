package config

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load() error { return m.Called().Error(0) }
func (m *mockStore) Save() error { return m.Called().Error(0) }

func (m *mockStore) GetSection(sectionID string) (map[string]interface{}, error) {
	args := m.Called(sectionID)
	data, _ := args.Get(0).(map[string]interface{})
	return data, args.Error(1)
}

func (m *mockStore) SetSection(sectionID string, data map[string]interface{}) error {
	return m.Called(sectionID, data).Error(0)
}

// memStore is a Store with no file behind it.
type memStore struct {
	sections map[string]map[string]interface{}
}

func newMemStore() *memStore {
	return &memStore{sections: map[string]map[string]interface{}{}}
}

func (m *memStore) Load() error { return nil }
func (m *memStore) Save() error { return nil }

func (m *memStore) GetSection(id string) (map[string]interface{}, error) {
	return m.sections[id], nil
}

func (m *memStore) SetSection(id string, data map[string]interface{}) error {
	m.sections[id] = data
	return nil
}

func TestManager_RegisterSection(t *testing.T) {
	manager := NewManager(newMemStore())

	require.NoError(t, manager.RegisterSection(NewRouterSection()))
	require.NoError(t, manager.RegisterSection(NewSaveSection()))
	assert.Error(t, manager.RegisterSection(NewRouterSection()), "duplicate id")

	section, ok := manager.GetSection(SectionIDRouter)
	require.True(t, ok)
	assert.IsType(t, &RouterSection{}, section)

	_, ok = manager.GetSection("missing")
	assert.False(t, ok)

	ids := []string{}
	for _, s := range manager.GetSections() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{SectionIDRouter, SectionIDSave}, ids)
}

func TestManager_LoadAllAppliesStoredValues(t *testing.T) {
	store := newMemStore()
	store.sections[SectionIDSave] = map[string]interface{}{
		"endpoint":     "https://records.example.com/submissions",
		"max_attempts": float64(3),
	}

	manager := NewManager(store)
	save := NewSaveSection()
	server := NewServerSection()
	require.NoError(t, manager.RegisterSection(save))
	require.NoError(t, manager.RegisterSection(server))

	require.NoError(t, manager.LoadAll())
	assert.Equal(t, "https://records.example.com/submissions", save.GetEndpoint())
	assert.Equal(t, 3, save.GetMaxAttempts())
	// absent sections keep their defaults
	assert.Equal(t, NewServerSection().GetListenAddr(), server.GetListenAddr())
}

func TestManager_LoadAllErrors(t *testing.T) {
	t.Run("store load", func(t *testing.T) {
		store := &mockStore{}
		store.On("Load").Return(errors.New("disk gone"))

		err := NewManager(store).LoadAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk gone")
		store.AssertExpectations(t)
	})

	t.Run("bad section value", func(t *testing.T) {
		store := newMemStore()
		store.sections[SectionIDRouter] = map[string]interface{}{"delivery_delay": "soon"}

		manager := NewManager(store)
		require.NoError(t, manager.RegisterSection(NewRouterSection()))

		err := manager.LoadAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), SectionIDRouter)
	})
}

func TestManager_SaveAll(t *testing.T) {
	t.Run("writes every section then saves", func(t *testing.T) {
		store := &mockStore{}
		store.On("SetSection", SectionIDRouter, mock.Anything).Return(nil).Once()
		store.On("SetSection", SectionIDPortal, mock.Anything).Return(nil).Once()
		store.On("Save").Return(nil).Once()

		manager := NewManager(store)
		require.NoError(t, manager.RegisterSection(NewRouterSection()))
		require.NoError(t, manager.RegisterSection(NewPortalSection()))

		require.NoError(t, manager.SaveAll())
		store.AssertExpectations(t)
	})

	t.Run("invalid section is not written", func(t *testing.T) {
		store := &mockStore{}
		manager := NewManager(store)
		server := NewServerSection()
		require.NoError(t, server.SetData(map[string]interface{}{"listen_addr": "nohost"}))
		require.NoError(t, manager.RegisterSection(server))

		err := manager.SaveAll()
		require.Error(t, err)
		store.AssertNotCalled(t, "SetSection", mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "Save")
	})

	t.Run("store save error", func(t *testing.T) {
		store := &mockStore{}
		store.On("SetSection", mock.Anything, mock.Anything).Return(nil)
		store.On("Save").Return(errors.New("read-only"))

		manager := NewManager(store)
		require.NoError(t, manager.RegisterSection(NewSaveSection()))
		assert.Error(t, manager.SaveAll())
	})
}

func TestManager_ResetAll(t *testing.T) {
	manager := NewManager(newMemStore())
	save := NewSaveSection()
	require.NoError(t, manager.RegisterSection(save))

	save.SetEndpoint("https://records.example.com")
	save.SetAccessToken("token")
	manager.ResetAll()

	assert.Empty(t, save.GetAccessToken())
	assert.Equal(t, NewSaveSection().GetEndpoint(), save.GetEndpoint())
}

func TestManager_ConcurrentRegistration(t *testing.T) {
	manager := NewManager(newMemStore())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			section := NewRouterSection()
			_ = manager.RegisterSection(&renamedSection{Section: section, id: fmt.Sprintf("router-%d", i)})
			manager.GetSections()
		}(i)
	}
	wg.Wait()

	assert.Len(t, manager.GetSections(), 10)
}

type renamedSection struct {
	Section
	id string
}

func (r *renamedSection) ID() string { return r.id }
