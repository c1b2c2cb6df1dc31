package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewExportCmd downloads a session export.
func NewExportCmd(configPath *string) *cobra.Command {
	var sessionID, format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a session export",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			data, err := newAPIClient(cfg).Export(cmd.Context(), sessionID, format)
			if err != nil {
				return fmt.Errorf("export session %s: %w", sessionID, err)
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&format, "format", "md", "export format")
	cmd.Flags().StringVar(&out, "out", "", "write to file instead of stdout")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
