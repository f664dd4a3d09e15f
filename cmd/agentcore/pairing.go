package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelai/agentcore/internal/pairing"
)

// buildPairingCmd creates the "pairing" command group. It operates on a
// short-lived in-process Pairing Manager, so codes generated here are only
// useful for local inspection of the code format; real pairing happens
// against the running gateway's own manager via its HTTP API.
func buildPairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Inspect pairing code generation",
	}
	cmd.AddCommand(buildPairingGenerateCmd())
	return cmd
}

func buildPairingGenerateCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a sample pairing code",
		Long: `Generate a sample pairing code against a fresh, local-only Pairing Manager.

This is a convenience for inspecting the code format; a code printed here is
unknown to any running gateway, since pairing state lives in that process's
memory. The gateway's HTTP API only exchanges codes (POST /pair); it has no
route that generates them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := pairing.New()
			code, err := mgr.GenerateCode(label)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Code:    %s\n", code.Code)
			fmt.Fprintf(out, "Label:   %s\n", code.Label)
			fmt.Fprintf(out, "Expires: %s\n", code.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Label to attach to the generated code")
	return cmd
}
