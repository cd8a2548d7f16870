// Package config holds the pflag-bound option structs for the two
// host-level entry points, cmd/mkfs and cmd/rvos, replacing the
// teacher's hand-rolled os.Args parsing in mkfs/mkfs.go with the
// pflag/cobra idiom the rest of the pack's CLIs use (gcsfuse's
// cfg.Config + cmd/root.go).
package config

import (
	"github.com/spf13/pflag"
)

// Default image geometry, matching the teacher's mkfs constants
// (nlogblks/ninodeblks/ndatablks in mkfs/mkfs.go) scaled down to the
// block-count units this filesystem's Create takes directly.
const (
	DefaultTotalBlocks       = 8192
	DefaultInodeBitmapBlocks = 1
)

// Pack describes a filesystem image to build: its backing path, size,
// and optionally a host directory tree to copy in, mirroring the
// teacher's mkfs <bootimage> <kernel image> <output image> <skel dir>
// argument shape minus the boot/kernel images this hosted port has no
// use for.
type Pack struct {
	Image             string
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	SkelDir           string
}

// BindPackFlags registers pack's fields onto fs with mkfs-style flags
// and returns it for chaining.
func BindPackFlags(fs *pflag.FlagSet, pack *Pack) *Pack {
	fs.StringVarP(&pack.Image, "image", "o", "fs.img", "path to the output disk image")
	fs.Uint32VarP(&pack.TotalBlocks, "blocks", "s", DefaultTotalBlocks, "total blocks in the image")
	fs.Uint32VarP(&pack.InodeBitmapBlocks, "inode-bitmap-blocks", "i", DefaultInodeBitmapBlocks, "blocks reserved for the inode bitmap")
	fs.StringVar(&pack.SkelDir, "skel", "", "host directory tree to copy into the image")
	return pack
}

// Runner describes the kernel harness entry point: the disk image it
// mounts and the log verbosity to run at.
type Runner struct {
	Image    string
	LogLevel string
}

// BindRunnerFlags registers runner's fields onto fs and returns it for
// chaining.
func BindRunnerFlags(fs *pflag.FlagSet, runner *Runner) *Runner {
	fs.StringVarP(&runner.Image, "image", "i", "fs.img", "path to the disk image to mount")
	fs.StringVar(&runner.LogLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	return runner
}
