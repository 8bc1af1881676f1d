// Package main provides repsheet, an offline repertorisation tool: it ranks the remedies
// of a case file and prints the repertory sheet without any server or search service.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/repertory-sheet-server/internal/casefile"
	"github.com/repertory-sheet-server/internal/config"
	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "repsheet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "repsheet",
		Short:         "Offline repertory sheet analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCommand())
	return root
}

type analyzeOptions struct {
	input     string
	top       int
	repertory string
	date      string
	xlsx      string
	logLevel  string
}

func newAnalyzeCommand() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Rank the remedies of a case file and print the repertory sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "case file (JSON)")
	cmd.Flags().IntVarP(&opts.top, "top", "n", 0, "remedies to print, 0 for all")
	cmd.Flags().StringVar(&opts.repertory, "repertory", "", "repertory name for the header, overrides the case file")
	cmd.Flags().StringVar(&opts.date, "date", "", "consultation date YYYY-MM-DD, overrides the case file")
	cmd.Flags().StringVar(&opts.xlsx, "xlsx", "", "also write the repertorisation chart to this workbook")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts analyzeOptions) error {
	if opts.top < 0 {
		return domain.NewValidationError("top", "top must not be negative", opts.top)
	}

	logger := config.NewLogger(domain.LoggingConfig{Level: opts.logLevel, Format: "text"})
	logger.SetOutput(cmd.ErrOrStderr())

	f, err := casefile.LoadFile(opts.input)
	if err != nil {
		return err
	}
	meta, err := f.Metadata(opts.repertory, opts.date)
	if err != nil {
		return err
	}

	session := service.NewAnalysisSession("offline", logger)
	if err := f.Apply(session); err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), session.ExportText(meta, opts.top))

	if opts.xlsx == "" {
		return nil
	}

	wb, err := session.ExportWorkbook(meta, opts.top)
	if err != nil {
		return err
	}
	defer wb.Close()

	if err := wb.SaveAs(opts.xlsx); err != nil {
		return fmt.Errorf("%w: writing workbook: %v", domain.ErrIO, err)
	}
	logger.WithFields(logrus.Fields{"path": opts.xlsx, "rubrics": len(f.Rubrics)}).Info("Workbook written")
	return nil
}
