package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/runtime"
	"github.com/spf13/cobra"
)

func retrieveCMD() *cobra.Command {
	var (
		k       int
		types   []string
		offline bool
		lexical bool
		sources []string
	)
	cmd := &cobra.Command{
		Use:   "retrieve QUERY",
		Short: "Show the chunks a query retrieves, after anchor gating",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lexical && !offline {
				return errors.New("--lexical needs --offline")
			}
			var allowed []chunker.SourceType
			for _, t := range types {
				st, err := chunker.ParseSourceType(t)
				if err != nil {
					return err
				}
				allowed = append(allowed, st)
			}
			cfg, lg, err := bootstrap()
			if err != nil {
				return err
			}
			defer lg.Sync()
			ctx, cancel := signalContext()
			defer cancel()

			mode := runtime.ModeStore
			if offline {
				mode = runtime.ModeMemory
			}
			svc, err := runtime.Build(ctx, cfg, mode, lg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if _, err := ingestSources(ctx, svc, sources, true); err != nil {
				return err
			}

			query := strings.Join(args, " ")
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if lexical {
				hits, err := svc.Memory.Lexical(query, k)
				if err != nil {
					return err
				}
				return enc.Encode(hits)
			}
			out, err := svc.Retriever.Retrieve(ctx, query, k, allowed...)
			if err != nil {
				return err
			}
			return enc.Encode(out)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&k, "k", "k", 8, "number of results")
	f.StringSliceVar(&types, "types", nil, "restrict to source types (material,outcomes,sample_paper)")
	f.BoolVar(&offline, "offline", false, "use an in-memory index built from --source")
	f.BoolVar(&lexical, "lexical", false, "keyword search instead of vector search (offline only)")
	f.StringArrayVar(&sources, "source", nil, "[type=]path-or-url to ingest first (repeatable)")
	return cmd
}
