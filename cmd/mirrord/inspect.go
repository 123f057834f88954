package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mirrord/internal/layout"
	"mirrord/internal/mirror"
)

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <identifier>",
		Short: "Print the fingerprint and file paths for an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDir(cmd)
			if err != nil {
				return err
			}
			id := layout.Fingerprint(args[0])
			p := &printer{format: "table", w: cmd.OutOrStdout()}
			p.kv([][2]string{
				{"Identifier", args[0]},
				{"ID", id},
				{"Mirror", d.MirrorPath(id)},
				{"History", d.HistoryDir(id)},
			})
			return nil
		},
	}
}

type lsRow struct {
	ID       string    `json:"id"`
	Mirror   string    `json:"mirror,omitempty"`
	Modified time.Time `json:"modified,omitzero"`
	Size     int64     `json:"size"`
	History  int       `json:"history"`
	Temp     bool      `json:"temp,omitempty"`
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List mirrors and history found under the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			d, err := resolveDir(cmd)
			if err != nil {
				return err
			}
			entries, err := mirror.Scan(d)
			if err != nil {
				return err
			}

			if p.isJSON() {
				out := make([]lsRow, 0, len(entries))
				for _, e := range entries {
					out = append(out, lsRow{
						ID:       e.ID,
						Mirror:   e.Mirror,
						Modified: e.MirrorModTime,
						Size:     e.MirrorSize,
						History:  e.History,
						Temp:     e.Temp,
					})
				}
				return p.json(out)
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				modified, size := "-", "-"
				if e.Mirror != "" {
					modified = e.MirrorModTime.Format(time.DateTime)
					size = strconv.FormatInt(e.MirrorSize, 10)
				}
				temp := ""
				if e.Temp {
					temp = "yes"
				}
				rows = append(rows, []string{e.ID, modified, size, strconv.Itoa(e.History), temp})
			}
			p.table([]string{"ID", "MODIFIED", "SIZE", "HISTORY", "TEMP"}, rows)
			return nil
		},
	}
	addFormatFlag(cmd)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <identifier>",
		Short: "List history mirrors of an identifier, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			d, err := resolveDir(cmd)
			if err != nil {
				return err
			}
			files, err := mirror.ListHistory(d, layout.Fingerprint(args[0]))
			if err != nil {
				return err
			}
			if p.isJSON() {
				if files == nil {
					files = []mirror.HistoryFile{}
				}
				return p.json(files)
			}
			rows := make([][]string, 0, len(files))
			for i, f := range files {
				rows = append(rows, []string{
					strconv.Itoa(i),
					f.ModTime.Format(time.DateTime),
					strconv.FormatInt(f.Size, 10),
					f.Path,
				})
			}
			p.table([]string{"#", "MODIFIED", "SIZE", "PATH"}, rows)
			return nil
		},
	}
	addFormatFlag(cmd)
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <identifier>",
		Short: "Delete the history of an identifier",
		Long: `Deletes every history mirror of the identifier and its history directory.
The current mirror is left alone. Fails while a running mirrord owns the root.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDir(cmd)
			if err != nil {
				return err
			}
			all, err := mirror.PurgeHistory(d, args[0], a.logger)
			if err != nil {
				return err
			}
			if !all {
				return fmt.Errorf("some history files of %q could not be removed", args[0])
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "history of %q removed\n", args[0])
			return nil
		},
	}
}
