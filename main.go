package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"squadstream/app"
	"squadstream/config"
	"squadstream/daemon"
	"squadstream/log"
)

var (
	version = "0.1.0"

	keyFlag        string
	terminalFlag   bool
	workDirFlag    string
	scriptFlags    []string
	watchFlag      string
	webFlag        bool
	backgroundFlag bool
	daemonFlag     bool

	rootCmd = &cobra.Command{
		Use:   "squadstream [flags] [-- command...]",
		Short: "squadstream runs commands and streams their output to a terminal view and web clients",
		Long: `squadstream runs commands under keys, keeps a bounded buffer of their output and
publishes it as events. Every argument after -- is one command line of the run named by
--key; the commands run one after the other and stop at the first failure. Without any run
the runs of the previous invocation are started again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log.Initialize(false)
			defer log.Close()

			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("the view needs a terminal; use serve to run headless")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runs, err := buildRuns(args)
			if err != nil {
				return err
			}
			watchDir, err := absDir(watchFlag)
			if err != nil {
				return err
			}

			state := config.LoadState()
			if runs, err = rememberRuns(state, runs); err != nil {
				return err
			}

			return app.Run(ctx, app.Options{
				Config:   cfg,
				Runs:     runs,
				WatchDir: watchDir,
				Web:      webFlag,
				State:    state,
			})
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve [flags] [-- command...]",
		Short: "Run commands headless and serve their output over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := buildRuns(args)
			if err != nil {
				return err
			}
			watchDir, err := absDir(watchFlag)
			if err != nil {
				return err
			}

			if backgroundFlag {
				log.Initialize(false)
				defer log.Close()
				if err := daemon.LaunchDaemon(daemonArgs(os.Args[1:])); err != nil {
					return err
				}
				fmt.Println("daemon started, stop it with: squadstream reset")
				return nil
			}

			if daemonFlag {
				log.Initialize(true)
			} else {
				dir, err := config.GetConfigDir()
				if err != nil {
					return err
				}
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
				log.SetupLogging(filepath.Join(dir, "serve.log"))
			}
			defer log.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return daemon.RunDaemon(context.Background(), cfg, daemon.Options{Runs: runs, WatchDir: watchDir})
		},
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Stop the background daemon and forget the remembered runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			state := config.LoadState()
			if err := state.DeleteAllRuns(); err != nil {
				return fmt.Errorf("failed to reset runs: %w", err)
			}
			fmt.Println("remembered runs have been reset")

			if err := daemon.StopDaemon(); err != nil {
				return err
			}
			fmt.Println("daemon has been stopped")
			return nil
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug info like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			configDir, err := config.GetConfigDir()
			if err != nil {
				return err
			}
			configJson, _ := json.MarshalIndent(cfg, "", "  ")

			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJson)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of squadstream",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("squadstream version %s\n", version)
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVarP(&keyFlag, "key", "k", "main", "Key the positional commands run under")
		c.Flags().BoolVarP(&terminalFlag, "terminal", "t", false, "Run the positional commands on a pseudo terminal")
		c.Flags().StringVarP(&workDirFlag, "workdir", "w", "", "Working directory of every run")
		c.Flags().StringArrayVarP(&scriptFlags, "script", "s", nil, "Additional run as key=command, may be repeated")
		c.Flags().StringVar(&watchFlag, "watch", "", "Publish file and git status changes of this directory")
	}
	rootCmd.Flags().BoolVar(&webFlag, "web", false, "Also serve output over HTTP and websockets")
	serveCmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "Detach and keep serving after the shell exits")
	serveCmd.Flags().BoolVar(&daemonFlag, "daemon", false, "Run as the detached daemon")
	_ = serveCmd.Flags().MarkHidden("daemon")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildRuns turns the positional commands and the --script flags into runs.
func buildRuns(args []string) ([]app.RunSpec, error) {
	var runs []app.RunSpec
	if len(args) > 0 || terminalFlag {
		runs = append(runs, app.RunSpec{Key: keyFlag, Commands: args, WorkDir: workDirFlag, Terminal: terminalFlag})
	}

	for _, script := range scriptFlags {
		key, command, ok := strings.Cut(script, "=")
		key, command = strings.TrimSpace(key), strings.TrimSpace(command)
		if !ok || key == "" || command == "" {
			return nil, fmt.Errorf("invalid --script %q, want key=command", script)
		}
		runs = append(runs, app.RunSpec{Key: key, Commands: []string{command}, WorkDir: workDirFlag})
	}

	seen := make(map[string]bool, len(runs))
	for _, run := range runs {
		if seen[run.Key] {
			return nil, fmt.Errorf("key %q is used by more than one run", run.Key)
		}
		seen[run.Key] = true
	}
	return runs, nil
}

// rememberRuns saves runs for the next invocation, or returns the saved runs when there
// are none.
func rememberRuns(storage config.RunStorage, runs []app.RunSpec) ([]app.RunSpec, error) {
	if len(runs) == 0 {
		return app.LoadRuns(storage)
	}
	if err := app.SaveRuns(storage, runs); err != nil {
		log.WarningLog.Printf("failed to remember runs: %v", err)
	}
	return runs, nil
}

// daemonArgs returns the arguments the detached daemon is started with.
func daemonArgs(args []string) []string {
	out := slices.DeleteFunc(slices.Clone(args), func(arg string) bool {
		return arg == "--background" || arg == "-b"
	})
	// The daemon flag goes before a -- separator so it isn't taken for a command.
	if i := slices.Index(out, "--"); i >= 0 {
		return slices.Insert(out, i, "--daemon")
	}
	return append(out, "--daemon")
}

// absDir returns dir as an absolute path, or "" when dir is empty.
func absDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid directory %s: %w", dir, err)
	}
	return abs, nil
}
