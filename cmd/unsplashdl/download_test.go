package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadOverridesOnlyChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "download"}
	addDownloadFlags(cmd.Flags())
	addGlobalFlags(cmd.Flags())

	require.NoError(t, cmd.ParseFlags([]string{"--retries", "5", "--concurrent", "--size", "medium", "--log-level", "debug"}))

	o := downloadOverrides(cmd, []string{"photos.json"})

	require.NotNil(t, o.Retries)
	assert.Equal(t, 5, *o.Retries)
	require.NotNil(t, o.EnableConcurrency)
	assert.True(t, *o.EnableConcurrency)
	require.NotNil(t, o.PreferredSize)
	assert.Equal(t, "medium", *o.PreferredSize)
	require.NotNil(t, o.LogLevel)
	assert.Equal(t, "debug", *o.LogLevel)
	require.NotNil(t, o.Manifest)
	assert.Equal(t, "photos.json", *o.Manifest)

	assert.Nil(t, o.Headless, "defaults must not override the config file")
	assert.Nil(t, o.Concurrency)
	assert.Nil(t, o.Directory)
	assert.Nil(t, o.DryRun)
	assert.Nil(t, o.Quiet)
}
