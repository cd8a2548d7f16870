package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/fs"
)

func TestAddFilesCopiesHostDirectoryTree(t *testing.T) {
	skel := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(skel, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(skel, "sub", "greeting.txt"), []byte("hello, world!"), 0644))

	dev := blockdev.NewMemDevice(8192)
	efs, err := fs.Create(dev, 8192, 1)
	require.NoError(t, err)

	require.NoError(t, addFiles(efs, skel))

	root := efs.RootInode()
	sub, ok := root.Find("sub")
	require.True(t, ok)
	require.True(t, sub.IsDir())

	greeting, ok := sub.Find("greeting.txt")
	require.True(t, ok)
	buf := make([]byte, 32)
	n := greeting.ReadAt(0, buf)
	require.Equal(t, "hello, world!", string(buf[:n]))
}

func TestInspectListsRootEntries(t *testing.T) {
	image := filepath.Join(t.TempDir(), "fs.img")
	dev, err := blockdev.OpenFileDevice(image, 8192)
	require.NoError(t, err)

	efs, err := fs.Create(dev, 8192, 32)
	require.NoError(t, err)
	_, ok := efs.RootInode().Create("filea", fs.TypeFile)
	require.True(t, ok)
	efs.Cache.SyncAll()

	require.NoError(t, runInspect(image))
}
