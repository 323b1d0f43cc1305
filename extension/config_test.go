package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DimensionCoin/credits/plugin"
	"github.com/DimensionCoin/credits/user"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{StrictEventOrdering: true})
	assert.Equal(t, user.HistoryCapacity, got.HistoryCapacity)
	assert.Equal(t, plugin.DefaultHookTimeout, got.HookTimeout)
	assert.True(t, got.StrictEventOrdering)

	got = mergeWithDefaults(Config{HistoryCapacity: 5, HookTimeout: time.Second})
	assert.Equal(t, 5, got.HistoryCapacity)
	assert.Equal(t, time.Second, got.HookTimeout)
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name         string
		yaml, prog   Config
		wantCapacity int
		wantTimeout  time.Duration
		wantStrict   bool
		wantNoMigr   bool
	}{
		{
			name:         "yaml wins",
			yaml:         Config{HistoryCapacity: 20, HookTimeout: 2 * time.Second},
			prog:         Config{HistoryCapacity: 30, HookTimeout: time.Second},
			wantCapacity: 20,
			wantTimeout:  2 * time.Second,
		},
		{
			name:         "programmatic fills gaps",
			yaml:         Config{},
			prog:         Config{HistoryCapacity: 30, StrictEventOrdering: true, DisableMigrate: true},
			wantCapacity: 30,
			wantTimeout:  plugin.DefaultHookTimeout,
			wantStrict:   true,
			wantNoMigr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeConfigurations(tt.yaml, tt.prog)
			assert.Equal(t, tt.wantCapacity, got.HistoryCapacity)
			assert.Equal(t, tt.wantTimeout, got.HookTimeout)
			assert.Equal(t, tt.wantStrict, got.StrictEventOrdering)
			assert.Equal(t, tt.wantNoMigr, got.DisableMigrate)
		})
	}
}

func TestBuildEngineOpts(t *testing.T) {
	e := New(WithStrictEventOrdering(), WithPlugin(namedPlugin("p")))
	e.config = mergeWithDefaults(e.config)

	// capacity, ordering, timeout, plugin
	assert.Len(t, e.buildEngineOpts(), 4)
}

type namedPlugin string

func (n namedPlugin) Name() string { return string(n) }
