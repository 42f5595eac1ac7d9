// Command dutyctl is the terminal client for dutydesk. It logs in with
// a single-use token, then works tickets straight against the document
// store with the credentials the redemption handed out.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/dutydesk/internal/observability/logger"
)

func main() {
	app := newApp()
	root := &cobra.Command{
		Use:           "dutyctl",
		Short:         "Work the support ticket queue from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&app.sessionPath, "session", defaultSessionPath(), "session file")
	root.PersistentFlags().StringVar(&app.db, "db", "so", "ticket database name")
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		app.loginCmd(),
		app.logoutCmd(),
		app.unassignedCmd(),
		app.mineCmd(),
		app.searchCmd(),
		app.assignCmd(),
		app.rejectCmd(),
		app.answerCmd(),
		app.noteCmd(),
		app.tagsCmd(),
		app.profileCmd(),
		app.statsCmd(),
		app.watchCmd(),
	)

	cobra.OnInitialize(func() {
		level := "warn"
		if app.verbose {
			level = "debug"
		}
		logger.Init(logger.Config{Env: "dev", Level: level, ServiceName: "dutyctl"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dutyctl:", err)
		os.Exit(1)
	}
}

// app carries the persistent flag values shared by every subcommand.
type app struct {
	sessionPath string
	db          string
	verbose     bool
}

func newApp() *app {
	return &app{}
}
