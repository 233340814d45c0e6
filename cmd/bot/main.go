package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "outline-vpn-bot",
		Short:        "Telegram bot selling Outline VPN subscriptions",
		Long:         `Sells Outline VPN access keys through Telegram, settles YooMoney payments and keeps the key server in sync with the subscription ledger.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newSyncKeysCommand(),
		newSweepCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
