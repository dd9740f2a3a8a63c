package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/peerchat"
)

func newIDCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Show the local peerchat identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			identity, _, err := e.svc.EnsureIdentity(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			view := map[string]any{
				"address":              peerchat.ChecksumAddress(identity.Address),
				"short_address":        peerchat.ShortAddress(peerchat.ChecksumAddress(identity.Address)),
				"identity_pub_ed25519": identity.IdentityPubEd25519,
				"created_at":           identity.CreatedAt,
				"updated_at":           identity.UpdatedAt,
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(),
				"address: %s\nidentity_pub_ed25519: %s\ncreated_at: %s\nupdated_at: %s\n",
				peerchat.ChecksumAddress(identity.Address),
				identity.IdentityPubEd25519,
				identity.CreatedAt.UTC().Format(time.RFC3339),
				identity.UpdatedAt.UTC().Format(time.RFC3339),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}
