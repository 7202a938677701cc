package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_BuiltinsOnly(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.True(t, store.Has(PromptModeSelect))
	assert.True(t, store.Has(PromptToolPlan))
	assert.False(t, store.Has("NOPE"))
}

func TestNewStore_FileOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	override := `
MODE_SELECT:
  system: custom system
  user_template: "custom: {{message}}"
EXTRA_PROMPT:
  system: extra
  user_template: hello
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, PromptsFileName), []byte(override), 0o644))

	store, err := NewStore(dir)
	require.NoError(t, err)

	spec, err := store.Get(PromptModeSelect)
	require.NoError(t, err)
	assert.Equal(t, "custom system", spec.System)
	assert.True(t, store.Has("EXTRA_PROMPT"))
	// Untouched builtins survive the merge.
	assert.True(t, store.Has(PromptTodoPlan))
}

func TestRender(t *testing.T) {
	store := NewStoreFromSpecs(map[string]*Spec{
		"T": {System: "sys", UserTemplate: "do {{thing}} at {{place}}; {{unknown}} stays"},
	})

	system, user, err := store.Render("T", map[string]string{
		"thing": "the work",
		"place": "home",
	})
	require.NoError(t, err)
	assert.Equal(t, "sys", system)
	assert.Equal(t, "do the work at home; {{unknown}} stays", user)

	_, _, err = store.Render("MISSING", nil)
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestToolPlanPromptConvention(t *testing.T) {
	assert.Equal(t, "TOOL_PLAN_FILESYSTEM", ToolPlanPromptID("filesystem"))

	store := NewStoreFromSpecs(map[string]*Spec{
		PromptToolPlan:    {UserTemplate: "generic"},
		"TOOL_PLAN_SHELL": {UserTemplate: "shell-specific"},
	})
	assert.Equal(t, "TOOL_PLAN_SHELL", store.ResolveToolPlanPrompt("shell"))
	assert.Equal(t, PromptToolPlan, store.ResolveToolPlanPrompt("filesystem"))
}
