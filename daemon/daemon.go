package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"squadstream/app"
	"squadstream/config"
	"squadstream/events"
	"squadstream/log"
	"squadstream/output"
	"squadstream/render"
	"squadstream/supervisor"
	"squadstream/watch"
)

const pidFileName = "daemon.pid"

// Options configures RunDaemon.
type Options struct {
	Runs []app.RunSpec
	// WatchDir publishes file and git status changes of this directory when set.
	WatchDir string
}

// RunDaemon serves buffers and events over HTTP without a local view. It starts the runs,
// then blocks until ctx is done, a signal arrives or the web server stops. Everything still
// running is killed before it returns.
func RunDaemon(ctx context.Context, cfg *config.Config, opts Options) error {
	log.InfoLog.Printf("starting daemon")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buffers := output.NewRegistry(cfg.BufferMaxChars, cfg.BufferMaxEntries)
	hub := events.NewHub()
	sup := supervisor.New(buffers, hub, supervisor.Options{
		Shell:           cfg.DefaultShell,
		ExtraPath:       cfg.ExtraPath,
		KillGracePeriod: cfg.KillGracePeriod(),
	})
	// Without a view the throttle only clears buffers for remote clients.
	throttle := render.NewThrottle(buffers, cfg.FrameInterval(), func(string) {})
	defer throttle.Stop()

	server, err := app.StartWebServer(cfg, buffers, hub, sup, throttle)
	if err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}
	defer app.StopWebServer(server)

	// A producer that keeps failing is only logged now and then.
	everyN := log.NewEvery(60 * time.Second)

	wg := &sync.WaitGroup{}
	for _, run := range opts.Runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := app.Execute(ctx, sup, run, 0, 0)
			switch {
			case res.Success:
				log.InfoLog.Printf("%s finished", run.Key)
			case everyN.ShouldLog():
				log.WarningLog.Printf("%s ended with exit code %d: %v", run.Key, res.ExitCode, res.Err)
			}
		}()
	}

	if opts.WatchDir != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watch.Run(ctx, hub, opts.WatchDir, cfg.WatchInterval()); err != nil {
				log.ErrorLog.Printf("error watching %s: %v", opts.WatchDir, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.InfoLog.Printf("stopping daemon: %v", context.Cause(ctx))
	case <-server.Done():
		log.InfoLog.Printf("web server stopped")
	}
	stop()

	sup.KillAll()
	wg.Wait()
	return nil
}

// LaunchDaemon starts the executable detached with args and records its pid.
func LaunchDaemon(args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(execPath, args...)

	// Detach the process from the parent
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	// Set process group to prevent signals from propagating
	cmd.SysProcAttr = getSysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start child process: %w", err)
	}

	log.InfoLog.Printf("started daemon child process with PID: %d", cmd.Process.Pid)

	pidFile, err := pidFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", cmd.Process.Pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// Don't wait for the child to exit, it's detached
	return cmd.Process.Release()
}

// StopDaemon attempts to stop a running daemon process if it exists. Returns no error if
// the daemon is not found (assumes the daemon does not exist).
func StopDaemon() error {
	pidFile, err := pidFilePath()
	if err != nil {
		return err
	}

	pid, err := readPID(pidFile)
	if err != nil || pid == 0 {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find daemon process: %w", err)
	}

	if err := stopProcess(proc); err != nil {
		log.WarningLog.Printf("daemon process (PID: %d) could not be stopped: %v", pid, err)
	}

	// Clean up PID file
	if err := os.Remove(pidFile); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	log.InfoLog.Printf("daemon process (PID: %d) stopped successfully", pid)
	return nil
}

func pidFilePath() (string, error) {
	pidDir, err := config.GetConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(pidDir, pidFileName), nil
}

// readPID returns 0 when no pid file exists.
func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file format: %w", err)
	}
	return pid, nil
}
