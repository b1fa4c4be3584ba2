package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gptworkdesk/workdesk"
	"github.com/gptworkdesk/workdesk/parser"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfgPath string
	verbose bool
	out     io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:          "workdesk",
		Short:        "Document extraction, ingestion and search",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "config file (YAML or JSON)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(c.extractCmd(), c.ingestCmd(), c.searchCmd(), c.documentsCmd(), c.sessionsCmd())
	return root
}

// config loads the config file (if any) and applies environment overrides.
func (c *cli) config() (workdesk.Config, error) {
	cfg := workdesk.DefaultConfig()
	if c.cfgPath != "" {
		var err error
		if cfg, err = workdesk.LoadConfig(c.cfgPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *cli) engine() (workdesk.Engine, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return workdesk.New(cfg)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) extractCmd() *cobra.Command {
	var sections bool
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract a document and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			opts := []parser.Option{parser.WithMaxBytes(cfg.MaxDocumentBytes)}
			if cfg.KeepUnicode {
				opts = append(opts, parser.WithUnicode())
			}
			if !sections {
				opts = append(opts, parser.WithoutSections())
			}
			doc, err := parser.NewProcessor(opts...).Process(cmd.Context(), data, filepath.Base(args[0]), "")
			if err != nil {
				return err
			}
			return c.printJSON(doc)
		},
	}
	cmd.Flags().BoolVar(&sections, "sections", false, "include detected sections")
	return cmd
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		force     bool
		noEmbed   bool
		chunkSize int
		overlap   int
	)
	cmd := &cobra.Command{
		Use:   "ingest <file...>",
		Short: "Ingest files into the document store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			var opts []workdesk.IngestOption
			if force {
				opts = append(opts, workdesk.WithForce())
			}
			if noEmbed {
				opts = append(opts, workdesk.WithEmbeddings(false))
			}
			if chunkSize > 0 {
				opts = append(opts, workdesk.WithChunking(chunkSize, overlap))
			}

			var failed int
			for _, path := range args {
				res, err := e.IngestFile(cmd.Context(), path, opts...)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				state := fmt.Sprintf("%d chunks, %d embedded", res.Chunks, res.Embedded)
				if res.Skipped {
					state = "unchanged"
				}
				fmt.Fprintf(c.out, "%s\tdoc %d\t%s\n", path, res.DocumentID, state)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest unchanged content")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "skip embedding generation")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in bytes (default from config)")
	cmd.Flags().IntVar(&overlap, "overlap", 200, "chunk overlap in bytes, used with --chunk-size")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid search over ingested documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			resp, err := e.Search(cmd.Context(), args[0], workdesk.WithMaxResults(limit))
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(resp)
			}
			for i, r := range resp.Results {
				fmt.Fprintf(c.out, "%2d. %s #%d (%.4f)\n    %s\n", i+1, r.Filename, r.ChunkIndex, r.Score, r.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func (c *cli) documentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage ingested documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			defer e.Close()
			docs, err := e.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Fprintf(c.out, "%d\t%s\t%s\t%s\t%d words\n", d.ID, d.Filename, d.Format, d.Status, d.WordCount)
			}
			return nil
		},
	})
	return cmd
}

func (c *cli) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect session document context",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked sessions (redis backend)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			defer e.Close()
			all, err := e.Sessions().ListAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range all {
				fmt.Fprintf(c.out, "%s\t%d documents\tupdated %s\n",
					s.SessionID, len(s.DocumentContexts), s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	})
	return cmd
}
