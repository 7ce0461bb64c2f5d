package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_GetWalksParentChain(t *testing.T) {
	root := NewRootScope(map[string]any{"k": "v"})
	child := root.Child()
	grandchild := child.Child()

	got, ok := grandchild.Get("input")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"k": "v"}, got)
}

func TestScope_SetIsLocalOnly(t *testing.T) {
	root := NewRootScope(nil)
	child := root.Child()

	require.NoError(t, child.Set("x", 1))

	_, ok := root.Get("x")
	assert.False(t, ok, "child writes never reach the parent")

	got, ok := child.Get("x")
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestScope_ChildShadowsParent(t *testing.T) {
	root := NewRootScope(nil)
	require.NoError(t, root.Set("name", "parent"))

	child := root.Child()
	require.NoError(t, child.Set("name", "child"))

	got, _ := child.Get("name")
	assert.Equal(t, "child", got)
	got, _ = root.Get("name")
	assert.Equal(t, "parent", got)
}

func TestScope_SiblingsAreIsolated(t *testing.T) {
	root := NewRootScope(nil)
	a := root.Child()
	b := root.Child()

	require.NoError(t, a.Set("branch", "a"))

	_, ok := b.Get("branch")
	assert.False(t, ok)
}

func TestScope_HasAndDelete(t *testing.T) {
	root := NewRootScope(nil)
	require.NoError(t, root.Set("x", 1))
	child := root.Child()

	assert.True(t, child.Has("x"))

	// Delete is local: removing from the child leaves the parent's value
	// visible.
	child.Delete("x")
	assert.True(t, child.Has("x"))

	root.Delete("x")
	assert.False(t, child.Has("x"))
}

func TestScope_KeysPreferChild(t *testing.T) {
	root := NewRootScope(nil)
	require.NoError(t, root.Set("a", 1))
	require.NoError(t, root.Set("b", 2))
	child := root.Child()
	require.NoError(t, child.Set("a", 10))

	keys := child.Keys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestScope_SnapshotFlattens(t *testing.T) {
	root := NewRootScope(map[string]any{"q": 1})
	require.NoError(t, root.Set("a", "root"))
	child := root.Child()
	require.NoError(t, child.Set("a", "child"))
	require.NoError(t, child.Set("b", true))

	snap := child.Snapshot()
	assert.Equal(t, "child", snap["a"])
	assert.Equal(t, true, snap["b"])
	assert.Equal(t, map[string]any{"q": 1}, snap["input"])
}

func TestScopeArena(t *testing.T) {
	arena, rootHandle := NewScopeArena(map[string]any{"seed": true})

	childHandle, err := arena.Child(rootHandle)
	require.NoError(t, err)

	child, err := arena.Get(childHandle)
	require.NoError(t, err)
	assert.True(t, child.Has("input"))

	_, err = arena.Get(ScopeHandle(99))
	assert.Error(t, err)

	arena.Release()
	_, err = arena.Get(rootHandle)
	assert.Error(t, err)
}
