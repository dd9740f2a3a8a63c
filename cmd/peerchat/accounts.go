package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/config"
	"github.com/quailyquaily/peerchat/internal/redisnet"
	"github.com/quailyquaily/peerchat/peerchat"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage addresses provisioned on the network",
	}
	cmd.AddCommand(newAccountsRegisterCmd())
	cmd.AddCommand(newAccountsListCmd())
	return cmd
}

func newAccountsRegisterCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "register <address>",
		Short: "Make an address reachable on the network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			address := args[0]
			if e.cfg.Network.Backend == config.BackendRedis {
				self, err := e.selfAddress(cmd.Context())
				if err != nil {
					return err
				}
				client, err := redisnet.Dial(cmd.Context(), e.cfg.Network.RedisURL, self, redisnet.ClientOptions{Logger: e.logger})
				if err != nil {
					return err
				}
				defer client.Close()
				if err := client.Register(cmd.Context(), address); err != nil {
					return err
				}
			} else if _, err := e.svc.RegisterAccount(cmd.Context(), address, time.Now().UTC()); err != nil {
				return err
			}
			registered := peerchat.ChecksumAddress(peerchat.NormalizeAddress(address))
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"registered": true, "address": registered})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "registered: %s\n", registered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newAccountsListCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List addresses registered in the local state directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			accounts, err := e.svc.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), accounts)
			}
			if len(accounts) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no accounts")
				return nil
			}
			for _, account := range accounts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", peerchat.ChecksumAddress(account.Address), account.CreatedAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}
