package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// buildSessionsCmd creates the "sessions" command group, a thin HTTP client
// against a running gateway's REST surface.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions on a running gateway",
	}
	cmd.AddCommand(buildSessionsListCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var addr string
	var token string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions on a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, addr+"/sessions", nil)
			if err != nil {
				return err
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
			}

			var decoded map[string]any
			if err := json.Unmarshal(body, &decoded); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			pretty, err := json.MarshalIndent(decoded, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Gateway base address")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for authenticated gateways")
	return cmd
}
