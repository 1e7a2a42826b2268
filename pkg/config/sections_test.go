package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterSection_Defaults(t *testing.T) {
	section := NewRouterSection()
	assert.Equal(t, "router", section.ID())
	assert.Equal(t, 500*time.Millisecond, section.DeliveryDelay)
	assert.Equal(t, 30*time.Second, section.FallbackClear)
	assert.NoError(t, section.Validate())
}

func TestRouterSection_SetData(t *testing.T) {
	tests := []struct {
		name          string
		data          map[string]interface{}
		expectDelay   time.Duration
		expectClear   time.Duration
		expectError   bool
		expectInvalid bool
	}{
		{
			name:        "duration strings",
			data:        map[string]interface{}{"delivery_delay": "250ms", "fallback_clear": "10s"},
			expectDelay: 250 * time.Millisecond,
			expectClear: 10 * time.Second,
		},
		{
			name:        "json numbers are nanoseconds",
			data:        map[string]interface{}{"delivery_delay": float64(time.Second)},
			expectDelay: time.Second,
			expectClear: 30 * time.Second,
		},
		{
			name:        "bad duration string",
			data:        map[string]interface{}{"delivery_delay": "soon"},
			expectError: true,
		},
		{
			name:        "wrong type",
			data:        map[string]interface{}{"fallback_clear": true},
			expectError: true,
		},
		{
			name:          "fallback shorter than delay",
			data:          map[string]interface{}{"delivery_delay": "5s", "fallback_clear": "1s"},
			expectDelay:   5 * time.Second,
			expectClear:   time.Second,
			expectInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section := NewRouterSection()
			err := section.SetData(tt.data)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			delay, clear := section.Timings()
			assert.Equal(t, tt.expectDelay, delay)
			assert.Equal(t, tt.expectClear, clear)

			if tt.expectInvalid {
				assert.Error(t, section.Validate())
			} else {
				assert.NoError(t, section.Validate())
			}
		})
	}
}

func TestSaveSection_RetryDelaysRoundTrip(t *testing.T) {
	section := NewSaveSection()
	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, section.GetRetryDelays())

	data := section.Data()

	restored := NewSaveSection()
	restored.RetryDelays = nil
	require.NoError(t, restored.SetData(data))
	assert.Equal(t, section.GetRetryDelays(), restored.GetRetryDelays())
	assert.Equal(t, 5, restored.GetMaxAttempts())
}

func TestSaveSection_Validate(t *testing.T) {
	section := NewSaveSection()
	require.NoError(t, section.Validate())

	section.SetEndpoint("not a url")
	assert.Error(t, section.Validate())

	section.Reset()
	section.MaxAttempts = 0
	assert.Error(t, section.Validate())

	section.Reset()
	section.RetryDelays = []time.Duration{}
	assert.Error(t, section.Validate())
}

func TestSaveSection_GetRetryDelaysIsACopy(t *testing.T) {
	section := NewSaveSection()
	delays := section.GetRetryDelays()
	delays[1] = time.Hour

	assert.Equal(t, time.Second, section.GetRetryDelays()[1])
}

func TestPortalSection_Validate(t *testing.T) {
	section := NewPortalSection()
	require.NoError(t, section.Validate())

	require.NoError(t, section.SetData(map[string]interface{}{"upload_format": "gif"}))
	assert.Error(t, section.Validate())

	section.Reset()
	require.NoError(t, section.SetData(map[string]interface{}{"upload_format": "pdf", "headless": false, "max_passes": float64(2)}))
	require.NoError(t, section.Validate())

	settings := section.Snapshot()
	assert.Equal(t, "pdf", settings.UploadFormat)
	assert.False(t, settings.Headless)
	assert.Equal(t, 2, settings.MaxPasses)
}

func TestServerSection_Validate(t *testing.T) {
	section := NewServerSection()
	require.NoError(t, section.Validate())

	require.NoError(t, section.SetData(map[string]interface{}{"listen_addr": "nohost"}))
	assert.Error(t, section.Validate())
}

func TestDefaultManager_PersistsSections(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	store, err := NewFileStore(configPath)
	require.NoError(t, err)
	manager, err := NewDefaultManager(store)
	require.NoError(t, err)

	save, ok := manager.GetSection(SectionIDSave)
	require.True(t, ok)
	save.(*SaveSection).SetEndpoint("https://backend.example.com/api/submissions")
	require.NoError(t, manager.SaveAll())

	reloadedStore, err := NewFileStore(configPath)
	require.NoError(t, err)
	reloaded, err := NewDefaultManager(reloadedStore)
	require.NoError(t, err)
	require.NoError(t, reloaded.LoadAll())

	section, _ := reloaded.GetSection(SectionIDSave)
	assert.Equal(t, "https://backend.example.com/api/submissions", section.(*SaveSection).GetEndpoint())
	assert.Len(t, reloaded.GetSections(), 4)
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv(EnvSaveEndpoint, "https://env.example.com/save")
	t.Setenv(EnvAccessToken, "tok-123")
	t.Setenv(EnvHeadless, "false")
	t.Setenv(EnvListenAddr, "0.0.0.0:9000")

	manager, err := NewDefaultManager(newMemStore())
	require.NoError(t, err)
	ApplyEnvironment(manager)

	save, _ := manager.GetSection(SectionIDSave)
	assert.Equal(t, "https://env.example.com/save", save.(*SaveSection).GetEndpoint())
	assert.Equal(t, "tok-123", save.(*SaveSection).GetAccessToken())

	portal, _ := manager.GetSection(SectionIDPortal)
	assert.False(t, portal.(*PortalSection).Snapshot().Headless)

	server, _ := manager.GetSection(SectionIDServer)
	assert.Equal(t, "0.0.0.0:9000", server.(*ServerSection).GetListenAddr())
}

func TestGettersFallBackToDefaults(t *testing.T) {
	globalMu.Lock()
	saved := globalManager
	globalManager = nil
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalManager = saved
		globalMu.Unlock()
	})

	assert.False(t, IsInitialized())
	assert.Equal(t, defaultSaveEndpoint, GetSave().GetEndpoint())
	assert.Equal(t, defaultListenAddr, GetServer().GetListenAddr())
	delay, _ := GetRouter().Timings()
	assert.Equal(t, defaultDeliveryDelay, delay)
	assert.Equal(t, defaultPortalURL, GetPortal().Snapshot().StartURL)
}
