// Command mkfs packs and inspects rvos disk images, the hosted
// replacement for the teacher's mkfs/mkfs.go (which concatenated a
// bootloader and kernel image ahead of a skeleton filesystem onto a
// raw device). This port has no boot sector or kernel image to
// prepend, so it narrows to the filesystem-packing half of that tool,
// grounded on original_source/easy-fs-fuse/src/main.rs's
// create-then-walk-and-copy sequence.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/config"
	"github.com/rvos/kernel/internal/fs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mkfs",
		Short: "Pack and inspect rvos disk images",
	}
	root.AddCommand(newPackCmd(), newInspectCmd())
	return root
}

func newPackCmd() *cobra.Command {
	pack := &config.Pack{}
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Create a disk image and optionally copy a host directory tree into it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(pack)
		},
	}
	config.BindPackFlags(cmd.Flags(), pack)
	return cmd
}

func runPack(pack *config.Pack) error {
	dev, err := blockdev.OpenFileDevice(pack.Image, int(pack.TotalBlocks))
	if err != nil {
		return errors.Wrapf(err, "mkfs: opening %s", pack.Image)
	}

	efs, err := fs.Create(dev, pack.TotalBlocks, pack.InodeBitmapBlocks)
	if err != nil {
		return errors.Wrap(err, "mkfs: creating filesystem")
	}

	if pack.SkelDir != "" {
		if err := addFiles(efs, pack.SkelDir); err != nil {
			return errors.Wrap(err, "mkfs: copying skeleton directory")
		}
	}
	efs.Cache.SyncAll()
	return nil
}

// addFiles walks skelDir on the host and replicates its tree into efs,
// grounded on the teacher's mkfs.addfiles/copydata pair. Unlike the
// teacher (whose ufs.Ufs_t took a single slash-joined relative path
// per entry), internal/fs.Inode.Create only creates within its
// receiver's own directory, so this tracks each host directory's
// corresponding Inode as it descends.
func addFiles(efs *fs.EasyFileSystem, skelDir string) error {
	dirs := map[string]*fs.Inode{skelDir: efs.RootInode()}
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == skelDir {
			return nil
		}
		parent, ok := dirs[filepath.Dir(path)]
		if !ok {
			return errors.Errorf("mkfs: parent of %q not visited", path)
		}
		name := filepath.Base(path)
		if d.IsDir() {
			child, ok := parent.Create(name, fs.TypeDir)
			if !ok {
				return errors.Errorf("mkfs: creating dir %q", path)
			}
			dirs[path] = child
			return nil
		}
		child, ok := parent.Create(name, fs.TypeFile)
		if !ok {
			return errors.Errorf("mkfs: creating file %q", path)
		}
		return copyData(path, child)
	})
}

func copyData(src string, dst *fs.Inode) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, blockdev.BlockSize*8)
	offset := 0
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			dst.WriteAt(offset, buf[:n])
			offset += n
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func newInspectCmd() *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the root directory of an existing disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(image)
		},
	}
	cmd.Flags().StringVarP(&image, "image", "i", "fs.img", "path to the disk image to inspect")
	return cmd
}

func runInspect(image string) error {
	info, err := os.Stat(image)
	if err != nil {
		return errors.Wrapf(err, "mkfs: stat %s", image)
	}
	dev, err := blockdev.OpenFileDevice(image, int(info.Size()/blockdev.BlockSize))
	if err != nil {
		return errors.Wrapf(err, "mkfs: opening %s", image)
	}
	efs, err := fs.Open(dev)
	if err != nil {
		return errors.Wrap(err, "mkfs: reading superblock")
	}
	for _, name := range efs.RootInode().Ls() {
		fmt.Println(name)
	}
	return nil
}
