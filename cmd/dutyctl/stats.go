package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func (a *app) statsCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics (operators only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession()
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("--admin-secret is required")
			}

			claims := jwt.MapClaims{
				"sub": s.me().ID,
				"iat": time.Now().Unix(),
				"exp": time.Now().Add(time.Minute).Unix(),
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, s.Server+"/admin/stats", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+signed)

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return fmt.Errorf("stats request failed (%s): %s", resp.Status, body)
			}

			var stats map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "admin-secret", "", "shared admin signing secret")
	return cmd
}
