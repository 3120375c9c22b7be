package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/repoask/internal/rag"
	"github.com/dshills/repoask/internal/storage"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index <owner/name>",
		Short: "Index or incrementally re-index a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Index(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed %s", res.Repo)
			if res.Head != "" {
				fmt.Fprintf(out, " at %s", res.Head)
			}
			fmt.Fprintf(out, " in %s\n", res.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "  chunks embedded: %d\n", res.Indexed)
			fmt.Fprintf(out, "  files: %d updated, %d added, %d unchanged, %d deleted\n",
				res.Updated, res.Added, res.Unchanged, res.Deleted)
			fmt.Fprintf(out, "  snapshot: %d files, %d chunks\n", res.Files, res.Chunks)
			return nil
		},
	}
}

func newAskCmd(a *app) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "ask <owner/name> <question...>",
		Short: "Answer a question about an indexed repository",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Ask(cmd.Context(), rag.AskRequest{
				Repo:     args[0],
				Question: strings.Join(args[1:], " "),
				TopK:     topK,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			if len(res.Citations) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Sources:")
			for _, c := range res.Citations {
				base := c.Base()
				if start, end, ok := c.LineRange(); ok {
					fmt.Fprintf(out, "  [%d] %s:%d-%d (score %.3f)\n", base.Rank, base.Path, start, end, base.Score)
				} else {
					fmt.Fprintf(out, "  [%d] %s (score %.3f)\n", base.Rank, base.Path, base.Score)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "passages to retrieve (default search.top_k)")
	return cmd
}

func newReposCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			repos, err := svc.Repositories(cmd.Context())
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No repositories indexed.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPO\tHEAD\tFILES\tCHUNKS\tLAST INDEXED")
			for _, st := range repos {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					st.Repo, st.Head, st.Files, st.Chunks, st.LastIndexedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		// no configuration needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repoask %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
