package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gridsim/internal/api"
	"gridsim/internal/console"
	"gridsim/internal/events"
	"gridsim/internal/metrics"
	"gridsim/internal/recorder"
	"gridsim/internal/report"
	"gridsim/internal/runner"
	"gridsim/internal/scenario"
	"gridsim/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:     "run <scenario>",
		Aliases: []string{"r"},
		Short:   "Run a scenario interactively in the terminal",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cat, err := a.catalog()
			if err != nil {
				return err
			}
			sc, err := cat.Scenario(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			steps, err := cat.GetSteps(ctx, sc.ID)
			if err != nil {
				return err
			}
			st, err := a.store(cmd)
			if err != nil {
				return err
			}
			criteria, err := a.criteria()
			if err != nil {
				return err
			}

			bus := events.NewBus()
			defer bus.Close()

			rec := recorder.New(st, a.rt.Recorder, recorder.WithEventBus(bus), recorder.WithLogger(a.log))
			id := uuid.NewString()
			r := runner.New(id, steps,
				runner.WithRecorder(rec),
				runner.WithEventBus(bus),
				runner.WithLogger(a.log),
				runner.WithScenarioID(sc.ID),
			)
			rec.Begin(store.SessionRecord{
				ID:           id,
				ScenarioID:   sc.ID,
				ScenarioName: sc.Name,
				Operator:     operator,
				StepCount:    len(steps),
				MaxPoints:    r.MaxPoints(),
				StartedAt:    time.Now(),
			})

			c := console.New(r, sc,
				console.WithInput(cmd.InOrStdin()),
				console.WithOutput(cmd.OutOrStdout()),
				console.WithEventBus(bus),
				console.WithCriteria(criteria),
				console.WithOperator(operator),
			)
			_, runErr := c.Run(ctx)
			rec.Close()

			switch {
			case runErr == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "\nSession %s saved to %s\n", id, st.RootDir())
				if n := rec.Failures(); n > 0 {
					return fmt.Errorf("%d record(s) could not be saved", n)
				}
				return nil
			case errors.Is(runErr, console.ErrQuit), errors.Is(runErr, context.Canceled):
				fmt.Fprintf(cmd.OutOrStdout(), "\nSession %s abandoned\n", id)
				return nil
			default:
				return runErr
			}
		},
	}

	cmd.Flags().StringVarP(&operator, "operator", "o", "", "Operator name shown in reports")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the training HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cat, err := a.catalog()
			if err != nil {
				return err
			}
			st, err := a.store(cmd)
			if err != nil {
				return err
			}
			criteria, err := a.criteria()
			if err != nil {
				return err
			}

			bus := events.NewBus()
			defer bus.Close()

			collector := metrics.NewCollector(bus, metrics.New())
			collector.Start()
			defer collector.Stop()

			rec := recorder.New(st, a.rt.Recorder, recorder.WithEventBus(bus), recorder.WithLogger(a.log))
			defer rec.Close()

			orphans, err := st.ActiveSessions(ctx)
			if err != nil {
				a.log.Warn("", "Failed to read active sessions: %v", err)
			} else if len(orphans) > 0 {
				a.log.Warn("", "%d unfinished session(s) left in %s", len(orphans), st.RootDir())
			}

			server := api.NewServer(a.rt.HTTPAddr, cat,
				api.WithHistory(st),
				api.WithRecorder(rec),
				api.WithEventBus(bus),
				api.WithMetrics(collector.Metrics()),
				api.WithCriteria(criteria),
				api.WithRetention(a.rt.SessionRetention),
				api.WithLogger(a.log),
			)

			fmt.Fprintln(cmd.OutOrStdout(), "gridsim - Training API Server")
			fmt.Fprintln(cmd.OutOrStdout(), "=============================")
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s (data: %s)\n", a.rt.HTTPAddr, st.RootDir())
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

			return server.Start(ctx)
		},
	}

	cmd.Flags().String("addr", ":8080", "Listen address (e.g. :8080, 0.0.0.0:3000)")
	_ = a.v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newScenariosCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "scenarios",
		Aliases: []string{"ls"},
		Short:   "List available scenarios",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			list, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-22s %5s %6s  %s\n", "ID", "STEPS", "POINTS", "NAME")
			for _, s := range list {
				fmt.Fprintf(out, "%-22s %5d %6d  %s\n", s.ID, s.StepCount, s.MaxPoints, s.Name)
			}
			return nil
		},
	}
}

func newGraphCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graph <scenario>",
		Short: "Print the scenario step sequence as a Graphviz DOT graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			sc, err := cat.Scenario(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			dot, err := scenario.Graph(sc, scenario.DefaultLabels())
			if err != nil {
				return fmt.Errorf("render graph: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dot)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit   int
		summary bool
	)

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"h"},
		Short:   "List completed sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.store(cmd)
			if err != nil {
				return err
			}
			criteria, err := a.criteria()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary {
				records, err := st.ListSessions(cmd.Context(), 0)
				if err != nil {
					return err
				}
				summaries, err := report.Aggregate(records, criteria)
				if err != nil {
					return err
				}
				fmt.Fprint(out, report.SummaryTable(summaries))
				return nil
			}

			records, err := st.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No completed sessions yet. Run `gridsim run <scenario>` first")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-16s %-12s %5s  %-10s %s\n", "SESSION", "SCENARIO", "OPERATOR", "SCORE", "VERDICT", "COMPLETED")
			for _, rec := range records {
				res, err := report.FromRecord(rec, criteria)
				if err != nil {
					return err
				}
				completed := ""
				if rec.CompletedAt != nil {
					completed = rec.CompletedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%-36s  %-16s %-12s %4d%%  %-10s %s\n",
					res.SessionID, res.ScenarioID, res.Operator, res.ScorePercent, res.Verdict(), completed)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list (0 = all)")
	cmd.Flags().BoolVarP(&summary, "summary", "s", false, "Show per-scenario aggregates instead")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print the training report of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd)
			if err != nil {
				return err
			}
			criteria, err := a.criteria()
			if err != nil {
				return err
			}

			rec, err := st.SessionByID(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, store.ErrSessionNotFound) {
					return fmt.Errorf("session %q not found", args[0])
				}
				return err
			}
			res, err := report.FromRecord(*rec, criteria)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Report())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
