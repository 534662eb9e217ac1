// Command uringcored exercises a Ring Context against real files from
// the command line: it registers the given path, submits one vectored
// read of up to 4096 bytes through it, and logs the completion it
// harvests.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/behrlich/uringcore"
	"github.com/behrlich/uringcore/internal/config"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	configPath string
	targetPath string
	depthFlag  uint32
	polledFlag bool
)

func main() {
	root := &cobra.Command{
		Use:   "uringcored",
		Short: "drive a Ring Context against a real file",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&targetPath, "file", "", "path to read from (required)")
	root.Flags().Uint32Var(&depthFlag, "depth", 0, "override configured ring depth")
	root.Flags().BoolVar(&polledFlag, "polled", false, "override configured polled mode")
	_ = root.MarkFlagRequired("file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if depthFlag != 0 {
		cfg.Depth = depthFlag
	}
	if cmd.Flags().Changed("polled") {
		cfg.Polled = polledFlag
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "uringcored"})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	fd, err := unix.Open(targetPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", targetPath, err)
	}
	defer unix.Close(fd)

	var opts []uringcore.Option
	if cfg.Polled {
		opts = append(opts, uringcore.WithPolled())
	}
	if cfg.WorkerCount > 0 {
		opts = append(opts, uringcore.WithWorkerCount(cfg.WorkerCount))
	}

	ring, err := uringcore.Setup(cfg.Depth, opts...)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer ring.Close()

	const demoFD = 1
	ring.RegisterFile(demoFD, uringcore.NewOSFile(fd))

	buf := make([]byte, 4096)
	iov := []syscall.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}

	if !ring.PrepReadv(demoFD, iov, 0, 0xC0FFEE) {
		return fmt.Errorf("submission queue full")
	}

	submitted, err := ring.Enter(1, 1, uringcore.EnterGetEvents)
	if err != nil {
		return fmt.Errorf("enter: %w", err)
	}
	logger.Info("submitted", "count", submitted)

	userData, res, flags, ok := ring.PeekCQE()
	if !ok {
		logger.Warn("no completion available")
		return nil
	}
	ring.SeenCQE()
	logger.Info("completion", "user_data", fmt.Sprintf("%#x", userData), "res", res, "flags", flags)

	return nil
}
