package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualify(t *testing.T) {
	assert.Equal(t, "filesystem__create_directory", Qualify("filesystem", "create_directory"))
}

func TestSplitQualified(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{"simple", "filesystem__get_file_info", "filesystem", "get_file_info", false},
		{"tool with digits", "shell__run_command2", "shell", "run_command2", false},
		{"underscore server", "web_browser__navigate", "web_browser", "navigate", false},
		{"no delimiter", "filesystem.get_file_info", "", "", true},
		{"uppercase rejected", "Filesystem__tool", "", "", true},
		{"empty", "", "", "", true},
		{"hyphen rejected", "file-system__tool", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, err := SplitQualified(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownTool)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestAutoQualify(t *testing.T) {
	t.Run("already qualified passes through", func(t *testing.T) {
		name, err := AutoQualify("filesystem__read_file", "shell")
		require.NoError(t, err)
		assert.Equal(t, "filesystem__read_file", name)
	})

	t.Run("bare name gets server prefix", func(t *testing.T) {
		name, err := AutoQualify("read_file", "filesystem")
		require.NoError(t, err)
		assert.Equal(t, "filesystem__read_file", name)
	})

	t.Run("bare name with no server is a hard error", func(t *testing.T) {
		_, err := AutoQualify("read_file", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownTool)
	})
}

func TestIsQualified(t *testing.T) {
	assert.True(t, IsQualified("filesystem__create_directory"))
	assert.False(t, IsQualified("create_directory"))
	assert.False(t, IsQualified("server__Tool"))
}
