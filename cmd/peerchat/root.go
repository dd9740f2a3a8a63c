package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peerchat",
		Short: "Find peers and chat over a wallet-addressed network",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := resolveLogLevel(cmd)
			return err
		},
	}
	cmd.PersistentFlags().String("dir", defaultPeerchatDir(), "Peerchat state directory")
	cmd.PersistentFlags().String("config", "", "TOML config file (default <dir>/peerchat.toml when present)")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().String("as", "", "Act as this address instead of the local identity")
	cmd.PersistentFlags().String("backend", "", "Network backend: file|redis")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for the redis backend")
	cmd.PersistentFlags().String("names-url", "", "Remote name directory base URL")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIDCmd())
	cmd.AddCommand(newAccountsCmd())
	cmd.AddCommand(newNamesCmd())
	cmd.AddCommand(newLookupCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newMessagesCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
