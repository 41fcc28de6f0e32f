package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/ident"
	"github.com/habitat-sh/builder-sub000/manifest"
	"github.com/habitat-sh/builder-sub000/store"
)

func newUploadCmd() *cobra.Command {
	var file string
	var channelFlag string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "record a package-upload event and compile its build manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return xerrors.Errorf("opening %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}

			var payload uploadedPackage
			if err := json.NewDecoder(r).Decode(&payload); err != nil {
				return xerrors.Errorf("decoding upload payload: %w", err)
			}
			pkg, err := payload.toPackage()
			if err != nil {
				return err
			}
			target := pkg.Target

			g, err := replayGraph(cfg.StorePath, target, cfg.Features.BuildDeps)
			if err != nil {
				return err
			}
			g.Extend(pkg, cfg.Features.BuildDeps)
			if err := appendJournal(cfg.StorePath, target, payload); err != nil {
				return err
			}

			m, err := manifest.Compute(g, []ident.PackageIdent{pkg.Ident}, manifest.NoopOracle, cfg.Features.BuildDeps, cfg.CyclicBuildRounds)
			if err != nil {
				return xerrors.Errorf("compiling manifest: %w", err)
			}

			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer s.Close()

			requestedChannel := channelFlag
			if requestedChannel == "" {
				requestedChannel = cfg.DefaultChannel
			}
			group, err := s.CreateGroup(context.Background(), target, entriesFromManifest(m), requestedChannel)
			if err != nil {
				return xerrors.Errorf("creating job group: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s created with %d entries (%d external dependencies)\n",
				group.ID, len(m.Nodes), len(m.ExternalDependencies))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the upload payload from this path instead of stdin")
	cmd.Flags().StringVar(&channelFlag, "channel", "", "channel this request targets (default: configured default_channel); on success the group is also promoted to stable only when this is \"stable\"")
	return cmd
}
