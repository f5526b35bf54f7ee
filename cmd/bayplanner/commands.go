package main

import (
	"bayplanner/internal/core"
	"bayplanner/pkg/domain"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>...",
		Short: "Load projects, bays and schedule rows into durable storage",
		Long: `Reads one or more YAML seed files with projects, bays and schedule_rows
sections and writes them in a single transaction. Files are merged in
argument order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batches := make([]core.Batch, len(args))
			var g errgroup.Group
			for i, path := range args {
				g.Go(func() error {
					return readYAML(path, &batches[i])
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			var merged core.Batch
			for _, b := range batches {
				merged.Projects = append(merged.Projects, b.Projects...)
				merged.Bays = append(merged.Bays, b.Bays...)
				merged.ScheduleRows = append(merged.ScheduleRows, b.ScheduleRows...)
			}

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			created, res, err := svc.CreateBatch(cmd.Context(), merged)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(created)
			}
			a.printf("seeded %d projects, %d bays, %d schedule rows\n",
				len(created.Projects), len(created.Bays), len(created.ScheduleRows))
			printViolations(a, res)
			return nil
		},
	}
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printViolations(a *app, res core.Result) {
	for _, v := range res.Violations {
		a.printf("%s: %s [%s]\n", v.Severity, v.Message, v.Rule)
	}
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state <projectID>",
		Short: "Show a project's schedule state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			state, err := svc.ComputeScheduleState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"project_id": args[0], "state": state})
			}
			a.printf("%s\t%s\n", args[0], state)
			return nil
		},
	}
}

func addWindowFlags(cmd *cobra.Command, from, to *string) {
	cmd.Flags().StringVar(from, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(to, "to", "", "window end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func parseWindow(from, to string) (core.Window, error) {
	start, ok := domain.ParseDate(from)
	if !ok {
		return core.Window{}, fmt.Errorf("invalid --from %q", from)
	}
	end, ok := domain.ParseDate(to)
	if !ok {
		return core.Window{}, fmt.Errorf("invalid --to %q", to)
	}
	return core.NewWindow(start, end), nil
}

func newUtilizationCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "utilization",
		Short: "Report active bay utilization for a date window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			report, err := svc.UtilizationReport(cmd.Context(), window)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(report)
			}
			a.printf("utilization %d%% (%d of %d bay-days, %d active bays)\n",
				report.Percent, report.OccupiedDays, report.CapacityDays, report.ActiveBays)
			for _, b := range report.Bays {
				a.printf("  %-12s %3d%%  %d days\n", b.Name, b.Percent, b.OccupiedDays)
			}
			return nil
		},
	}
	addWindowFlags(cmd, &from, &to)
	return cmd
}

func newOverviewCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Print utilization, teams and every project state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			window, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			overview, err := svc.Overview(cmd.Context(), window)
			if err != nil {
				return err
			}
			return a.printJSON(overview)
		},
	}
	addWindowFlags(cmd, &from, &to)
	return cmd
}

func newTeamsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List teams with staffing and weekly capacity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			teams, err := svc.Teams(cmd.Context())
			if err != nil {
				return err
			}
			for i := range teams {
				teams[i].Staffing = a.cfg.ApplyDefaultHours(teams[i].Staffing)
			}
			if a.jsonOut {
				return a.printJSON(teams)
			}
			for _, t := range teams {
				flag := ""
				if !t.Uniform {
					flag = " (inconsistent staffing)"
				}
				a.printf("%s\tbays=%s\tstaff=%d+%d\thours=%d\tweekly=%dh%s\n",
					t.Name, strings.Join(t.BayIDs, ","), t.Staffing.AssemblyStaffCount, t.Staffing.ElectricalStaffCount,
					t.Staffing.Hours(), domain.WeeklyCapacityHours(t.Staffing), flag)
			}
			return nil
		},
	}
}

func newCapacityCmd(a *app) *cobra.Command {
	var (
		team  string
		hours float64
		start string
	)
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Convert an hour budget into calendar days for a team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			teams, err := svc.Teams(cmd.Context())
			if err != nil {
				return err
			}
			var found *core.Team
			for i := range teams {
				if teams[i].Name == team {
					found = &teams[i]
					break
				}
			}
			if found == nil {
				return domain.NotFoundError{Entity: domain.EntityTeam, ID: team}
			}
			found.Staffing = a.cfg.ApplyDefaultHours(found.Staffing)
			days, err := core.TeamPhaseDuration(*found, hours)
			if err != nil {
				return err
			}
			out := map[string]any{"team": team, "hours": hours, "days": days}
			if start != "" {
				s, ok := domain.ParseDate(start)
				if !ok {
					return fmt.Errorf("invalid --start %q", start)
				}
				end, err := domain.EstimatePhaseEnd(s, hours, found.Staffing)
				if err != nil {
					return err
				}
				out["end"] = end.Format(domain.DateLayout)
			}
			if a.jsonOut {
				return a.printJSON(out)
			}
			a.printf("%s needs %d days for %.1f hours", team, days, hours)
			if end, ok := out["end"]; ok {
				a.printf(" (ends %s)", end)
			}
			a.printf("\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team name")
	cmd.Flags().Float64Var(&hours, "hours", 0, "required labour hours")
	cmd.Flags().StringVar(&start, "start", "", "phase start date to estimate an end date")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func newWeekdaysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "weekdays <start> <end>",
		Short: "Count weekdays between two dates and classify the span",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			n, ok := domain.WeekdaysBetween(args[0], args[1])
			if !ok {
				return fmt.Errorf("invalid dates %q %q", args[0], args[1])
			}
			band := domain.WeekdayBand(n)
			if a.jsonOut {
				return a.printJSON(map[string]any{"weekdays": n, "band": band})
			}
			a.printf("%d\t%s\n", n, band)
			return nil
		},
	}
}

func newJournalsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "journals",
		Short: "List archived sandbox journals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.service(cmd.Context()); err != nil {
				return err
			}
			if a.archive == nil {
				return fmt.Errorf("journal archive disabled; set journal.enabled or BAYPLANNER_BLOB_DRIVER")
			}
			records, err := a.archive.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(records)
			}
			for _, r := range records {
				a.printf("%s\t%s\t%s\t%d entries\n", r.CommittedAt.Format(domain.DateLayout), r.User, r.SessionID, len(r.Entries))
			}
			return nil
		},
	}
}
