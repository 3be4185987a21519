// symdb-server is the indexing daemon. It loads the XML configuration,
// refuses to start when the socket is already served, and runs until
// SIGINT/SIGTERM.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/symdb-dev/symdb/internal/config"
	"github.com/symdb-dev/symdb/internal/logging"
	"github.com/symdb-dev/symdb/internal/server"
)

var (
	configPath string
	daemonize  bool
)

var rootCmd = &cobra.Command{
	Use:   "symdb-server",
	Short: "Persistent C/C++ symbol index daemon",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/symdb.xml", "configuration file")
	rootCmd.Flags().BoolVar(&daemonize, "daemon", false, "detach from the terminal")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if daemonize {
		if err := daemonizeProcess(); err != nil {
			return err
		}
	}

	if _, err := logging.Init(logging.Config{
		Level: slog.LevelDebug,
		Dir:   cfg.LogDir,
	}); err != nil {
		return err
	}

	srv := server.New(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Stop()
	}()

	return srv.Run()
}

// daemonizeProcess re-executes the server detached from the controlling
// terminal. The child runs with the same arguments minus --daemon.
func daemonizeProcess() error {
	if os.Getenv("SYMDB_DAEMONIZED") == "1" {
		return nil
	}

	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a == "--daemon" {
			continue
		}
		args = append(args, a)
	}

	attr := &os.ProcAttr{
		Env:   append(os.Environ(), "SYMDB_DAEMONIZED=1"),
		Files: []*os.File{nil, nil, nil},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	proc, err := os.StartProcess(os.Args[0], append([]string{os.Args[0]}, args...), attr)
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	proc.Release()
	os.Exit(0)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
