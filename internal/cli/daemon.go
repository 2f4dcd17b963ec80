package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/amaumene/mediasync/internal/api"
	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/controllers"
	"github.com/amaumene/mediasync/internal/scheduler"
	"github.com/spf13/cobra"
)

const stopTimeout = 30 * time.Second

func daemonCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run synchronizations on a schedule",
	}
	cmd.AddCommand(daemonStartCmd(global))
	cmd.AddCommand(daemonStopCmd(global))
	return cmd
}

func daemonStartCmd(global *globalFlags) *cobra.Command {
	var (
		schedule   string
		foreground bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon",
		Long: `Start the sync daemon. Without --foreground the daemon detaches and writes its pid
to mediasync.pid in the base directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := config.NewPaths(global.baseDir)
			if err != nil {
				return err
			}
			if pid, running := readPID(paths.PIDFile); running {
				return fmt.Errorf("daemon already running with pid %d", pid)
			}

			if !foreground {
				return detach(cmd, global, schedule)
			}
			return runDaemon(cmd, global, schedule, paths.PIDFile)
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression overriding scheduler.schedule")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "stay attached to the terminal")
	return cmd
}

// detach starts the daemon again in the background
func detach(cmd *cobra.Command, global *globalFlags, schedule string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	args := []string{"--base-dir", global.baseDir, "daemon", "start", "--foreground"}
	if schedule != "" {
		args = append(args, "--schedule", schedule)
	}
	child := exec.Command(exe, args...)
	child.Stdin, child.Stdout, child.Stderr = nil, nil, nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprintf("Daemon started with pid %d", child.Process.Pid))
	return child.Process.Release()
}

// runDaemon runs the scheduler and the HTTP server until a termination signal
func runDaemon(cmd *cobra.Command, global *globalFlags, schedule, pidFile string) error {
	app, err := openApp(global)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer os.Remove(pidFile)

	schedCfg := app.cfg.Scheduler
	if schedule != "" {
		schedCfg.Schedule = schedule
	}
	sched, err := scheduler.NewScheduler(app.sync, schedCfg, controllers.OptionsFromConfig(app.cfg.Sync), logger)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	if app.cfg.Server.Enabled {
		server := api.NewServer(app.cfg.Server, app.db, sched, app.sync.Progress(), logger)
		go func() {
			serverErr <- server.Start(ctx)
		}()
	}

	logger.WithField("pid", os.Getpid()).Info("mediasync daemon is running")

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	logger.Info("mediasync daemon stopped")
	return nil
}

func daemonStopCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := config.NewPaths(global.baseDir)
			if err != nil {
				return err
			}

			pid, running := readPID(paths.PIDFile)
			if pid == 0 {
				return errors.New("daemon is not running")
			}
			if !running {
				os.Remove(paths.PIDFile)
				return fmt.Errorf("daemon is not running, removed stale pid file for pid %d", pid)
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}

			ctx, cancel := context.WithTimeout(runContext(cmd), stopTimeout)
			defer cancel()
			if err := waitExit(ctx, paths.PIDFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprintf("Daemon with pid %d stopped", pid))
			return nil
		},
	}
}

// readPID returns the pid recorded in path and whether that process is alive
func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, process.Signal(syscall.Signal(0)) == nil
}

// waitExit waits until the daemon removed its pid file
func waitExit(ctx context.Context, pidFile string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(pidFile); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon did not stop within %s", stopTimeout)
		case <-ticker.C:
		}
	}
}
