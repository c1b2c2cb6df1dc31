package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"quiz-learner-client/internal/app"
	"quiz-learner-client/internal/domain"
)

// NewStatusCmd prints the persisted progress of one participant.
func NewStatusCmd(configPath *string) *cobra.Command {
	var sessionID, participantID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted progress for a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, release, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			if participantID == "" {
				id, ok := app.LoadIdentity(ctx, store, sessionID)
				if !ok {
					return fmt.Errorf("no remembered participant for session %s", sessionID)
				}
				participantID = id.ParticipantID
			}
			progress := app.NewProgress(store, domain.ProgressKey{SessionID: sessionID, ParticipantID: participantID})
			fmt.Fprintf(cmd.OutOrStdout(), "session:     %s\nparticipant: %s\ncursor:      %d\ncompleted:   %t\n",
				sessionID, participantID, progress.Cursor(ctx), progress.Completed(ctx))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&participantID, "participant", "", "participant id (defaults to the remembered identity)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
