package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "banwatch",
		Short: "Watch social profiles for ban/unban transitions and notify subscribers",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(subsCmd())
	root.AddCommand(historyCmd())

	return root
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the monitoring daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func checkCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <username>",
		Short: "Fetch a profile's current status once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		platform  string
		chatID    int64
		requester int64
	)

	cmd := &cobra.Command{
		Use:   "watch <username>",
		Short: "Subscribe a destination to a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0], platform, chatID, requester)
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "telegram", "destination platform (telegram, discord)")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "destination chat/channel id")
	cmd.Flags().Int64Var(&requester, "requester", 0, "requesting user id")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func subsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subs",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubs()
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <username>",
		Short: "Show recent samples and transition events for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(args[0], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to show")
	return cmd
}
