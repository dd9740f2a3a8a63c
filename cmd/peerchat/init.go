package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/peerchat"
)

func newInitCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the local peerchat identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			identity, created, err := e.svc.EnsureIdentity(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			view := map[string]any{
				"created": created,
				"address": peerchat.ChecksumAddress(identity.Address),
				"dir":     e.cfg.Dir,
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			state := "existing"
			if created {
				state = "created"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "state: %s\naddress: %s\ndir: %s\n", state, peerchat.ChecksumAddress(identity.Address), e.cfg.Dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}
