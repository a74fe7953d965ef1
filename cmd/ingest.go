package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/ingest"
	"github.com/mohammad-safakhou/qbank/internal/runtime"
	"github.com/spf13/cobra"
)

// sourceSpec is one --source value: [type=]path-or-url.
type sourceSpec struct {
	Type chunker.SourceType
	Ref  string
}

func parseSourceSpec(s string) (sourceSpec, error) {
	ref := strings.TrimSpace(s)
	typ := ""
	if k, v, ok := strings.Cut(ref, "="); ok && !strings.Contains(k, "/") {
		typ, ref = k, v
	}
	st, err := chunker.ParseSourceType(typ)
	if err != nil {
		return sourceSpec{}, err
	}
	if ref == "" {
		return sourceSpec{}, fmt.Errorf("source %q has no path", s)
	}
	return sourceSpec{Type: st, Ref: ref}, nil
}

func (s sourceSpec) isURL() bool {
	return strings.HasPrefix(s.Ref, "http://") || strings.HasPrefix(s.Ref, "https://")
}

func ingestSources(ctx context.Context, svc *runtime.Services, specs []string, consent bool) ([]ingest.Report, error) {
	var out []ingest.Report
	for _, raw := range specs {
		src, err := parseSourceSpec(raw)
		if err != nil {
			return out, err
		}
		var rep ingest.Report
		if src.isURL() {
			rep, err = svc.Ingestor.IngestURL(ctx, svc.Fetcher, src.Ref, src.Type, consent)
		} else {
			rep, err = svc.Ingestor.IngestFile(ctx, src.Ref, filepath.Base(src.Ref), src.Type, consent)
		}
		if err != nil {
			return out, fmt.Errorf("ingest %s: %w", src.Ref, err)
		}
		svc.Logger.Info("ingested", "source", rep.Source, "type", rep.SourceType, "pages", rep.Pages, "chunks", rep.Chunks)
		out = append(out, rep)
	}
	return out, nil
}

func ingestCMD() *cobra.Command {
	var consent bool
	cmd := &cobra.Command{
		Use:   "ingest [type=]path-or-url...",
		Short: "Chunk, embed and store course documents",
		Long: "Ingest PDFs, text files or web pages. Prefix a source with material=, outcomes= " +
			"or sample_paper= to set its type; the default is material.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			ctx, cancel := signalContext()
			defer cancel()

			svc, err := runtime.Build(ctx, cfg, runtime.ModeStore, lg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			reports, err := ingestSources(ctx, svc, args, consent)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		},
	}
	cmd.Flags().BoolVar(&consent, "consent", false, "confirm consent for documents containing personal data")
	return cmd
}
