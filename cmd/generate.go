package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/export"
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
	"github.com/mohammad-safakhou/qbank/internal/runtime"
	"github.com/mohammad-safakhou/qbank/internal/worker"
	"github.com/spf13/cobra"
)

func generateCMD() *cobra.Command {
	var (
		req     pipeline.Request
		offline bool
		sources []string
		consent bool
		format  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and audit a question bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "json", "csv", "html":
			default:
				return fmt.Errorf("unknown format %q (json|csv|html)", format)
			}
			if offline && len(sources) == 0 {
				return errors.New("--offline needs at least one --source")
			}
			if err := req.Validate(); err != nil {
				return err
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
			if _, err := ingestSources(ctx, svc, sources, consent); err != nil {
				return err
			}

			res, err := run(ctx, svc, req)
			if err != nil {
				return err
			}
			lg.Info("generation finished", "state", res.Loop.State, "iterations", res.Loop.Iterations,
				"questions", len(res.Loop.Bank.Questions))

			var w io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return writeResult(w, format, res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Course, "course", "", "course name")
	f.StringVar(&req.Topics, "topics", "", "topic or comma separated topics")
	f.IntVarP(&req.NumQuestions, "num", "n", 10, "number of questions")
	f.IntVar(&req.MarksEach, "marks", 5, "marks per question")
	f.StringVar(&req.DifficultyMix, "difficulty", bank.MixMostlyMedium, "difficulty mix preset")
	f.StringVar(&req.Instruction, "instruction", "", "extra instruction for the generator")
	f.BoolVar(&offline, "offline", false, "use an in-memory index instead of postgres")
	f.StringArrayVar(&sources, "source", nil, "[type=]path-or-url to ingest first (repeatable)")
	f.BoolVar(&consent, "consent", false, "confirm consent for sources containing personal data")
	f.StringVarP(&format, "format", "f", "json", "output format: json, csv or html")
	f.StringVarP(&outPath, "out", "o", "", "write output to a file instead of stdout")
	return cmd
}

// run persists the request as a run when a store is available, so it can be
// fetched and exported through the API later.
func run(ctx context.Context, svc *runtime.Services, req pipeline.Request) (pipeline.Result, error) {
	if svc.Store == nil {
		return svc.Pipeline.Run(ctx, req)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return pipeline.Result{}, err
	}
	id, err := svc.Store.CreateRun(ctx, req.Course, pipeline.PlanTopic(req.Topics, req.Course), raw)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("create run: %w", err)
	}
	svc.Logger.Info("run created", "run", id)
	return worker.Execute(ctx, svc.Store, svc.Pipeline, id, req)
}

func writeResult(w io.Writer, format string, res pipeline.Result) error {
	switch strings.ToLower(format) {
	case "csv":
		return export.WriteCSV(w, res.Loop.Bank)
	case "html":
		return export.WriteHTML(w, export.Report{
			Course:   res.Course,
			Topic:    res.Targets.Topic,
			Bank:     res.Loop.Bank,
			Audit:    res.Loop.Audit,
			Coverage: res.Coverage,
			Log:      res.Loop.Log,
		})
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
}
