package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchicalIDs(t *testing.T) {
	assert.Equal(t, "a", RootID(0))
	assert.Equal(t, "b", RootID(1))
	assert.Equal(t, "z", RootID(25))
	assert.Equal(t, "a1", RootID(26))
	assert.Equal(t, "a.a", ChildID("a", 0))
	assert.Equal(t, "a.b.c", ChildID("a.b", 2))
}

func TestAddSubItemAssignsIDs(t *testing.T) {
	root := NewTodoItem("a", "top", 3)
	first := root.AddSubItem("child one", 3)
	second := root.AddSubItem("child two", 3)
	grandchild := first.AddSubItem("grandchild", 3)

	assert.Equal(t, "a.a", first.ID)
	assert.Equal(t, "a.b", second.ID)
	assert.Equal(t, "a.a.a", grandchild.ID)
	assert.Equal(t, 3, grandchild.Depth())
}

func TestFindSearchesTree(t *testing.T) {
	root := NewTodoItem("a", "top", 3)
	child := root.AddSubItem("child", 3)
	list := &TodoList{Items: []*TodoItem{root}}

	assert.Equal(t, child, list.Find("a.a"))
	assert.Nil(t, list.Find("zz"))
}

func TestReplacePreservesOrder(t *testing.T) {
	list := &TodoList{Items: []*TodoItem{
		NewTodoItem("a", "one", 3),
		NewTodoItem("b", "two", 3),
		NewTodoItem("c", "three", 3),
	}}

	replacements := []*TodoItem{
		NewTodoItem("b.a", "two-1", 3),
		NewTodoItem("b.b", "two-2", 3),
	}
	require.True(t, list.Replace("b", replacements))

	ids := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"a", "b.a", "b.b", "c"}, ids)
	assert.False(t, list.Replace("zz", replacements))
}

func TestValidateDAG(t *testing.T) {
	t.Run("valid chain", func(t *testing.T) {
		a := NewTodoItem("a", "one", 3)
		b := NewTodoItem("b", "two", 3)
		b.Dependencies = []string{"a"}
		list := &TodoList{Items: []*TodoItem{a, b}}
		assert.NoError(t, list.ValidateDAG())
	})

	t.Run("unknown dependency", func(t *testing.T) {
		a := NewTodoItem("a", "one", 3)
		a.Dependencies = []string{"zz"}
		list := &TodoList{Items: []*TodoItem{a}}
		assert.Error(t, list.ValidateDAG())
	})

	t.Run("cycle", func(t *testing.T) {
		a := NewTodoItem("a", "one", 3)
		b := NewTodoItem("b", "two", 3)
		a.Dependencies = []string{"b"}
		b.Dependencies = []string{"a"}
		list := &TodoList{Items: []*TodoItem{a, b}}
		assert.Error(t, list.ValidateDAG())
	})
}

func TestNextRunnableHonoursDependencies(t *testing.T) {
	a := NewTodoItem("a", "one", 3)
	b := NewTodoItem("b", "two", 3)
	b.Dependencies = []string{"a"}
	list := &TodoList{Items: []*TodoItem{a, b}}

	assert.Equal(t, a, list.NextRunnable())

	a.Status = ItemStatusInProgress
	assert.Nil(t, list.NextRunnable())

	a.Status = ItemStatusCompleted
	assert.Equal(t, b, list.NextRunnable())

	b.Status = ItemStatusCompleted
	assert.Nil(t, list.NextRunnable())
	assert.True(t, list.Done())
}

func TestDependenciesMetRequiresCompleted(t *testing.T) {
	a := NewTodoItem("a", "one", 3)
	b := NewTodoItem("b", "two", 3)
	b.Dependencies = []string{"a"}
	list := &TodoList{Items: []*TodoItem{a, b}}

	a.Status = ItemStatusAbandoned
	assert.False(t, list.DependenciesMet(b))
}

func TestCanAttempt(t *testing.T) {
	item := NewTodoItem("a", "one", 2)
	assert.True(t, item.CanAttempt())
	item.Attempt = 2
	assert.False(t, item.CanAttempt())
}
