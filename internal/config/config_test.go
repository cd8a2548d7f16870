package config_test

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/config"
)

func TestBindPackFlagsAppliesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("mkfs", pflag.ContinueOnError)
	pack := config.BindPackFlags(fs, &config.Pack{})
	require.NoError(t, fs.Parse(nil))

	require.Equal(t, "fs.img", pack.Image)
	require.Equal(t, uint32(config.DefaultTotalBlocks), pack.TotalBlocks)
	require.Equal(t, uint32(config.DefaultInodeBitmapBlocks), pack.InodeBitmapBlocks)
	require.Equal(t, "", pack.SkelDir)
}

func TestBindPackFlagsParsesOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("mkfs", pflag.ContinueOnError)
	pack := config.BindPackFlags(fs, &config.Pack{})
	require.NoError(t, fs.Parse([]string{"--image=out.img", "--blocks=4096", "--skel=testdata"}))

	require.Equal(t, "out.img", pack.Image)
	require.Equal(t, uint32(4096), pack.TotalBlocks)
	require.Equal(t, "testdata", pack.SkelDir)
}

func TestBindRunnerFlagsAppliesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("rvos", pflag.ContinueOnError)
	runner := config.BindRunnerFlags(fs, &config.Runner{})
	require.NoError(t, fs.Parse(nil))

	require.Equal(t, "fs.img", runner.Image)
	require.Equal(t, "info", runner.LogLevel)
}
