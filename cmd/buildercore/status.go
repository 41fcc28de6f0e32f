package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/store"
)

// isTerminal reports whether stdout is attached to a terminal, the same
// one-shot ioctl probe the teacher's batch scheduler uses to decide
// whether to draw a refreshing progress display.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

func newStatusCmd() *cobra.Command {
	var groupFlag string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print a job group's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if groupFlag == "" {
				return xerrors.New("status: -group is required")
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
			group, err := s.GetGroup(ctx, groupID)
			if err != nil {
				return xerrors.Errorf("group %s: %w", groupID, err)
			}
			entries, err := s.ListEntries(ctx, groupID)
			if err != nil {
				return xerrors.Errorf("listing entries for %s: %w", groupID, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "group %s  target=%s  state=%s\n", group.ID, group.Target, group.State)
			if isTerminal {
				fmt.Fprintln(out, "----------------------------------------------------------------")
			}
			for _, e := range entries {
				fmt.Fprintf(out, "  %-40s iteration=%-2d state=%s\n", e.Ident, e.Iteration, e.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&groupFlag, "group", "", "job group ID to inspect")
	return cmd
}
