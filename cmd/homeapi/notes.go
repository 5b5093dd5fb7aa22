package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"homeapi/client"
	"homeapi/internal/diff"
	"homeapi/internal/notes"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	limit     int
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Work with the notes document",
}

var hashCmd = &cobra.Command{
	Use:   "hash [file]",
	Short: "Print the checksum and length of a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%d %d\n", notes.Checksum(data), utf8.RuneCount(data))
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Replace the document with the contents of file",
	Long: `Sends only the part of file that differs from the current document.
With --server the edit goes to a running homeapi, otherwise it is applied
to the configured document directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		updated, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		var edit notes.EditRequest
		if serverURL != "" {
			c := client.New(serverURL)
			doc, err := c.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetching document: %w", err)
			}
			if edit, err = c.Push(ctx, doc.Content, string(updated)); err != nil {
				return fmt.Errorf("pushing edit: %w", err)
			}
		} else {
			a, err := buildApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := a.updater.Current(ctx)
			if err != nil {
				return err
			}
			edit = client.ComputeEdit(doc.Content, string(updated))
			if _, err := a.updater.Apply(ctx, edit); err != nil {
				return err
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s kept %d+%d characters, sent %s\n",
			green("updated"), edit.PrefixLen, edit.SuffixLen,
			humanize.Bytes(uint64(len(edit.NewContent))))
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List git snapshots of the document",
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshots, err := newRepository().Log(cmd.Context(), cfg.Notes.Path, limit)
		if err != nil {
			return err
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		for _, s := range snapshots {
			fmt.Printf("%s %-16s %s\n", yellow(shortHash(s.Commit)), humanize.Time(s.Time), s.Message)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <rev>",
	Short: "Print the document as of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := newRepository().Show(cmd.Context(), args[0], cfg.Notes.Path)
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <rev> [rev]",
	Short: "Show changes between a snapshot and the document or another snapshot",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo := newRepository()

		old, err := repo.Show(ctx, args[0], cfg.Notes.Path)
		if err != nil {
			return err
		}

		var updated []byte
		if len(args) == 2 {
			s, err := repo.Show(ctx, args[1], cfg.Notes.Path)
			if err != nil {
				return err
			}
			updated = []byte(s)
		} else if updated, err = os.ReadFile(cfg.Notes.Path); err != nil {
			return err
		}

		result := diff.NewEngine(3).Diff([]byte(old), updated)
		if result.Equal() {
			return nil
		}
		printColoredDiff(result.Format())
		return nil
	},
}

var revisionsCmd = &cobra.Command{
	Use:   "revisions [id]",
	Short: "List journal revisions, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		j, err := openJournal()
		if err != nil {
			return err
		}
		if j == nil {
			return errors.New("notes.journal_path is not configured")
		}

		if len(args) == 1 {
			content, err := j.Content(ctx, args[0])
			if err != nil {
				return err
			}
			os.Stdout.Write(content)
			return nil
		}

		revisions, err := j.List(ctx, limit)
		if err != nil {
			return err
		}
		cyan := color.New(color.FgCyan).SprintFunc()
		for _, r := range revisions {
			fmt.Printf("%s %-16s %10d %8s %s %s\n",
				cyan(r.ID), humanize.Time(r.CreatedAt), r.Checksum,
				humanize.Bytes(uint64(r.Size)), shortHash(r.Commit), r.RemoteAddr)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the document's checksum every time it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := notes.Watch(cmd.Context(), cfg.Notes.Path, logger, func(s notes.State) {
			fmt.Printf("%s %d %d characters %s\n",
				s.ModTime.Format("15:04:05"), s.Checksum, s.Length, humanize.Bytes(uint64(s.Bytes)))
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the document and its snapshot repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.Notes.WorkTree, 0755); err != nil {
			return err
		}
		if _, err := os.Stat(cfg.Notes.Path); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(cfg.Notes.Path, nil, 0644); err != nil {
				return fmt.Errorf("creating document: %w", err)
			}
		}

		if err := newRepository().Init(cmd.Context()); err != nil {
			return fmt.Errorf("initializing repository: %w", err)
		}
		fmt.Println("Initialized notes repository in", cfg.Notes.WorkTree)
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVarP(&serverURL, "server", "s", "", "base URL of a running homeapi")
	logCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of snapshots")
	revisionsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of revisions")

	notesCmd.AddCommand(hashCmd, pushCmd, logCmd, showCmd, diffCmd, revisionsCmd, watchCmd, initCmd)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}
