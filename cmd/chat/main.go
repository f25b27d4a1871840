// Command chat is a terminal front end for the newsdesk answering service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/client"
	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/logging"
)

var (
	verbose     bool
	local       bool
	sessionFlag string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask the newsdesk assistant about current events",
	Long: `chat opens an interactive transcript with the newsdesk assistant.

Type a question and press enter. Lines starting with a slash are commands:
  /new            start a fresh session
  /session <id>   switch to an existing session
  /clear          clear the local transcript
  /reset          delete the session on the server and start a new one
  /help           list commands
  /quit           leave`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		logCfg := cfg.Log
		logCfg.Level = "warn"
		if verbose {
			logCfg.Level = "debug"
		}
		built, err := logging.New(logCfg)
		if err != nil {
			return err
		}
		logger = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")
	rootCmd.Flags().BoolVar(&local, "local", false, "answer in-process over an in-memory store instead of calling the API")
	rootCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "resume an existing session id")

	rootCmd.AddCommand(sessionCmd, newsCmd)
}

func newClient() *client.Client {
	return client.New(cfg.Client, client.WithLogger(logger.Named("client")))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
