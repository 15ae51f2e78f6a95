package cli

import (
	"github.com/spf13/cobra"

	logx "shopnotify/pkg/logx"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "shopnotify",
		Short:         "Live notification relay for the repair shop",
		Long:          "shopnotify relays booking and order notifications to customer and staff browsers over WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for send/listen (trace|debug|info|warn|error)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newListenCmd(opts))
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) logx.Logger {
	return logx.NewConsole(cmd.ErrOrStderr(), o.logLevel)
}

func Execute() error {
	return newRootCmd().Execute()
}
