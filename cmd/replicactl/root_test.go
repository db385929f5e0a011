package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/config"
	"replica/internal/domain/schema"
	"replica/internal/domain/task"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
}

func TestResolveCollections(t *testing.T) {
	cfg := &config.Config{
		SyncCollections: []string{"items", "orders", "users"},
		ConsumerExclude: []string{"users"},
	}

	got, err := resolveCollections(cfg, true, "", "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"items"}, got)

	got, err = resolveCollections(cfg, false, "orders,items", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "items"}, got)

	_, err = resolveCollections(cfg, false, "users", "")
	assert.ErrorIs(t, err, schema.ErrEntityNotAllowed)

	_, err = resolveCollections(cfg, false, "", "")
	assert.Error(t, err)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "go?"))
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "go?"))
	assert.False(t, confirm(strings.NewReader("\n"), &out, "go?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "go?"))
	assert.Contains(t, out.String(), "go? [y/N]: ")
}

func TestTaskNames(t *testing.T) {
	e := &env{cfg: &config.Config{SyncCollections: []string{"items", "users"}, ConsumerExclude: []string{"users"}}}
	assert.Equal(t, []string{"producer", "items"}, taskNames(e, ""))
	assert.Equal(t, []string{"users"}, taskNames(e, "users"))
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"task", "status"}, [][]string{{"items", "ACTIVE"}}, 1)
	assert.Contains(t, out, "items")
	assert.Contains(t, out, "ACTIVE")

	info := renderInfo("items", &task.Info{Status: "ERROR", MaxRestarts: 3, MinUpTime: 60})
	assert.Contains(t, info, "ERROR")
	assert.Contains(t, info, "60s")
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"task", "load", "sync", "token"})
}
