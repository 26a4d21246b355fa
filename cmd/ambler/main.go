// Command ambler runs the behavioral automation daemon and its operator
// surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ambler/internal/app"
	"ambler/internal/config"
	"ambler/internal/logging"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "ambler",
		Short:         "Behavioral scheduling engine for social automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")

	root.AddCommand(
		runCmd(),
		statusCmd(),
		activateCmd(),
		postsCmd(),
		sessionCmd(),
		resetCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ambler.yaml"
	}
	return home + "/.ambler/config.yaml"
}

// setup loads config, builds the logger and assembles the app.
func setup(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func runCmd() *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.Run(ctx, start) })
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&start, "start", true, "begin a run immediately")
	return cmd
}

func statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			st, err := a.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func printStatus(st app.Status) {
	fmt.Printf("status:   %s (running=%v)\n", st.Status, st.Running)
	if st.Mood != "" {
		fmt.Printf("mood:     %s\n", st.Mood)
	}
	fmt.Printf("today:    %d posts, %d likes, %d sessions, %s active\n",
		st.Counters.PostsToday, st.Counters.LikesToday,
		st.Counters.SessionsStartedToday,
		(time.Duration(st.Counters.ActivityTimeTodaySec) * time.Second).String())
	fmt.Printf("lifetime: %d posts\n", st.Counters.TotalPostsLifetime)
	if st.NextPostAt != nil {
		fmt.Printf("next post: %s (index %d of %d queued)\n",
			st.NextPostAt.Format(time.RFC3339), st.NextPostIndex, st.QueuedPosts)
	}
	if w := st.NextActivityWindow; w != nil {
		fmt.Printf("next session: %s - %s\n",
			w.Start.Format("15:04"), w.End.Format("15:04"))
	}
	if st.LockHolder != "" {
		fmt.Printf("tab lock: %s\n", st.LockHolder)
	}
	for _, e := range st.Feed {
		fmt.Printf("  %s [%s] %s: %s\n",
			e.TS.Format("15:04:05"), e.Level, e.Code, e.Message)
	}
}

func activateCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate a license key on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			res, err := a.Activate(ctx, args[0], email)
			if err != nil {
				return err
			}
			fmt.Printf("activated (plan: %s)\n", res.Plan)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Manage the post queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <file>",
		Short: "Replace the post queue from a text file (posts separated by blank lines)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := a.SetQueue(ctx, string(raw)); err != nil {
				return err
			}
			posts, issues, err := a.ValidateQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("stored %d posts\n", len(posts))
			for _, iss := range issues {
				fmt.Println("warning:", iss.Error())
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the stored queue against the platform limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			posts, issues, err := a.ValidateQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d posts queued\n", len(posts))
			if len(issues) == 0 {
				fmt.Println("all posts within limit")
				return nil
			}
			for _, iss := range issues {
				fmt.Println(iss.Error())
			}
			return fmt.Errorf("%d posts over limit", len(issues))
		},
	})
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Control activity sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Force an activity session to start now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return a.ForceSession(ctx)
		},
	})
	return cmd
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all persisted state (keeps the install identity)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			ctx := cmd.Context()
			a, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := a.Reset(ctx); err != nil {
				return err
			}
			fmt.Println("state reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
