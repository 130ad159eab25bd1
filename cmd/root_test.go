package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrconsole/notifyd/internal/app"
	"github.com/hrconsole/notifyd/internal/buildinfo"
)

func newRoot(t *testing.T) (*app.Context, *bytes.Buffer, func(args ...string) error) {
	t.Helper()
	ctx, err := app.NewContext(buildinfo.NewContext("1.2.3", "2026-01-01"))
	require.NoError(t, err)
	root, err := RootCommand(ctx)
	require.NoError(t, err)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	return ctx, &out, func(args ...string) error {
		root.SetArgs(args)
		return root.Execute()
	}
}

func TestVersion_SkipsConfig(t *testing.T) {
	ctx, out, run := newRoot(t)

	require.NoError(t, run("version", "--config", "/does/not/exist.yaml"))
	assert.Contains(t, out.String(), "1.2.3")
	assert.Nil(t, ctx.Settings)
}

func TestSkipsValidation(t *testing.T) {
	ctx, err := app.NewContext(buildinfo.NewContext("", ""))
	require.NoError(t, err)
	root, err := RootCommand(ctx)
	require.NoError(t, err)

	show, _, err := root.Find([]string{"config", "show"})
	require.NoError(t, err)
	assert.True(t, skipsValidation(show))

	set, _, err := root.Find([]string{"secret", "set"})
	require.NoError(t, err)
	assert.True(t, skipsValidation(set))

	list, _, err := root.Find([]string{"list"})
	require.NoError(t, err)
	assert.False(t, skipsValidation(list))
}

func TestFlagsBindToSettings(t *testing.T) {
	ctx, err := app.NewContext(buildinfo.NewContext("", ""))
	require.NoError(t, err)
	root, err := RootCommand(ctx)
	require.NoError(t, err)
	require.NoError(t, root.PersistentFlags().Set("staff-id", "77"))
	assert.Equal(t, "77", ctx.Viper.GetString("session.staff_id"))
}
