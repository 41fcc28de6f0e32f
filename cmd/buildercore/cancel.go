package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/store"
)

func newCancelCmd() *cobra.Command {
	var groupFlag string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "request cancellation of a job group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if groupFlag == "" {
				return xerrors.New("cancel: -group is required")
			}
			groupID, err := uuid.Parse(groupFlag)
			if err != nil {
				return xerrors.Errorf("parsing -group: %w", err)
			}

			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			if _, err := s.GetGroup(ctx, groupID); err != nil {
				return xerrors.Errorf("group %s: %w", groupID, err)
			}
			// The running serve daemon's scheduler polls for
			// cancel-pending groups on its own target, cancels running
			// entries via the dispatcher and the rest directly, and
			// settles the group to GroupCanceled once every entry has
			// acknowledged; this command only records the request.
			if err := s.SetGroupState(ctx, groupID, store.GroupCancelPending); err != nil {
				return xerrors.Errorf("marking group %s cancel-pending: %w", groupID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s marked cancel-pending\n", groupID)
			return nil
		},
	}
	cmd.Flags().StringVar(&groupFlag, "group", "", "job group ID to cancel")
	return cmd
}
