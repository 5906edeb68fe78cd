package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/render"
	"github.com/ashita-ai/kiroku/internal/service/narrative"
	"github.com/ashita-ai/kiroku/internal/service/summary"
)

func validNames(names map[string]string) error {
	for field, v := range names {
		if err := model.ValidateName(field, v); err != nil {
			return err
		}
	}
	return nil
}

func newCompareCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <project> <subproject>",
		Short: "Compare the latest run of one suite with the previous run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validNames(map[string]string{"project": args[0], "subproject": args[1]}); err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.close()

			c := e.comparator.Compare(cmd.Context(), args[0], args[1])
			return e.emit(c, func(w io.Writer) { printComparison(w, c) })
		},
	}
}

func newCompareAllCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "compare-all <project>",
		Short: "Compare every suite of a project and show the weighted success rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validNames(map[string]string{"project": args[0]}); err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.close()

			pc := e.comparator.CompareAll(cmd.Context(), args[0])
			return e.emit(pc, func(w io.Writer) { printProjectComparison(w, pc) })
		},
	}
}

func newSessionsCommand(setup setupFunc) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions <project> <subproject>",
		Short: "List recent runs of a suite, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validNames(map[string]string{"project": args[0], "subproject": args[1]}); err != nil {
				return err
			}
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("--limit must be between 1 and 1000")
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.close()

			sessions := e.guard.RecentSessions(cmd.Context(), args[0], args[1], limit)
			out := make([]model.SessionSummary, len(sessions))
			for i, s := range sessions {
				out[i] = compare.Summarize(s)
			}
			return e.emit(out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tCREATED\tCALLS\tRATE\tFAILS")
				for _, s := range out {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f%%\t%d\n",
						s.SessionID, s.CreatedAt.UTC().Format("2006-01-02 15:04:05"), s.Calls, s.Rate, s.Fails)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum sessions to list")
	return cmd
}

func newProjectsCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects and their suites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.close()

			names := e.guard.Projects(cmd.Context())
			out := make([]model.ProjectListing, 0, len(names))
			for _, name := range names {
				subs := e.guard.Subprojects(cmd.Context(), name)
				if subs == nil {
					subs = []string{}
				}
				out = append(out, model.ProjectListing{Name: name, Subprojects: subs})
			}
			return e.emit(out, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PROJECT\tSUBPROJECTS")
				for _, p := range out {
					fmt.Fprintf(tw, "%s\t%s\n", p.Name, strings.Join(p.Subprojects, ", "))
				}
				_ = tw.Flush()
			})
		},
	}
}

func newReportCommand(setup setupFunc) *cobra.Command {
	var format, outPath string
	cmd := &cobra.Command{
		Use:   "report <project>",
		Short: "Render a comparison report for a project",
		Long: `Assemble a report from the current comparison of every suite in a project
and render it as Markdown or HTML. No narrative is generated; the report
carries the placeholder narrative.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validNames(map[string]string{"project": args[0]}); err != nil {
				return err
			}
			if format != "markdown" && format != "html" {
				return fmt.Errorf("unsupported format %q: must be markdown or html", format)
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.store.close()

			assembler := summary.New(narrative.NoopProvider{}, e.logger)
			report := assembler.Assemble(cmd.Context(), summary.AssembleInput{
				Project:    args[0],
				Comparison: e.comparator.CompareAll(cmd.Context(), args[0]),
			})

			w := e.out
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if format == "html" {
				return render.HTML(w, report)
			}
			_, err = io.WriteString(w, render.Markdown(report))
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Report format: markdown or html")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the report to a file instead of stdout")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kirokuctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func orNone(keys []string) string {
	if len(keys) == 0 {
		return "-"
	}
	return strings.Join(keys, ", ")
}

func printComparison(w io.Writer, c model.Comparison) {
	fmt.Fprintf(w, "%s / %s (%s)\n", c.Project, c.Subproject, c.Strategy)
	if !c.Available || c.Diff == nil {
		fmt.Fprintf(w, "  not available: %s\n", c.Reason)
		return
	}
	d := c.Diff
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  previous\t%.2f%%\t%d calls\t%d failed\n", d.Previous.Rate, d.Previous.Total, d.Previous.Fails)
	fmt.Fprintf(tw, "  current\t%.2f%%\t%d calls\t%d failed\n", d.Current.Rate, d.Current.Total, d.Current.Fails)
	fmt.Fprintf(tw, "  delta\t%+.2f\t%s\n", d.Delta, d.Trend)
	_ = tw.Flush()
	fmt.Fprintf(w, "  added:      %s\n", orNone(d.Added))
	fmt.Fprintf(w, "  removed:    %s\n", orNone(d.Removed))
	fmt.Fprintf(w, "  new fails:  %s\n", orNone(d.NewFailures))
	fmt.Fprintf(w, "  recurring:  %s\n", orNone(d.RecurringFailures))
	fmt.Fprintf(w, "  fixed:      %s\n", orNone(d.Fixed))
}

func printProjectComparison(w io.Writer, pc model.ProjectComparison) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBPROJECT\tPREVIOUS\tCURRENT\tDELTA\tTREND")
	for _, name := range sortedKeys(pc.PerSubproject) {
		c := pc.PerSubproject[name]
		if !c.Available || c.Diff == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s\n", name, c.Reason)
			continue
		}
		d := c.Diff
		fmt.Fprintf(tw, "%s\t%.2f%%\t%.2f%%\t%+.2f\t%s\n", name, d.Previous.Rate, d.Current.Rate, d.Delta, d.Trend)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nWeighted success rate: %.2f%% across %d compared suite(s)\n", pc.WeightedAverage, pc.Compared)
}

func sortedKeys(m map[string]model.Comparison) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
