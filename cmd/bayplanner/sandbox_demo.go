package main

import (
	"bayplanner/internal/core"
	"bayplanner/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sandboxScript is a YAML list of staged edits replayed in one sandbox.
type sandboxScript struct {
	User   string     `yaml:"user"`
	Commit bool       `yaml:"commit"`
	Ops    []scriptOp `yaml:"ops"`
}

type scriptOp struct {
	Op       string            `yaml:"op"`
	Row      *core.ScheduleRow `yaml:"row"`
	Bay      *core.Bay         `yaml:"bay"`
	RowID    string            `yaml:"row_id"`
	BayID    string            `yaml:"bay_id"`
	Start    time.Time         `yaml:"start"`
	End      time.Time         `yaml:"end"`
	Team     string            `yaml:"team"`
	Staffing *domain.Staffing  `yaml:"staffing"`
}

func newSandboxDemoCmd(a *app) *cobra.Command {
	var (
		user    string
		discard bool
	)
	cmd := &cobra.Command{
		Use:   "sandbox-demo <script.yaml>",
		Short: "Stage a scripted list of edits in a sandbox, then commit or discard",
		Long: `Replays a YAML script of staged edits in a fresh sandbox session.

Supported ops: create, move, resize, delete, create_bay, update_bay,
delete_bay, team_staffing. The session is committed when the script sets
commit: true and --discard is not given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var script sandboxScript
			if err := readYAML(args[0], &script); err != nil {
				return err
			}
			if user != "" {
				script.User = user
			}
			if script.User == "" {
				script.User = "sandbox"
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			return a.runScript(cmd.Context(), svc, script, script.Commit && !discard)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "sandbox user (overrides the script)")
	cmd.Flags().BoolVar(&discard, "discard", false, "discard instead of committing")
	return cmd
}

func (a *app) runScript(ctx context.Context, svc *core.Service, script sandboxScript, commit bool) error {
	user := script.User
	if _, err := svc.EnterSandbox(ctx, user); err != nil {
		return err
	}
	for i, op := range script.Ops {
		staged, err := stageScriptOp(ctx, svc, user, op)
		if err != nil {
			_ = svc.Discard(ctx, user)
			return fmt.Errorf("op %d (%s): %w", i+1, op.Op, err)
		}
		for _, e := range staged.Entries {
			a.printf("staged #%d %s %s %s\n", e.Seq, e.Action, e.Entity, e.EntityID)
		}
	}

	if !commit {
		if err := svc.Discard(ctx, user); err != nil {
			return err
		}
		a.printf("discarded %d staged ops\n", len(script.Ops))
		return nil
	}
	result, err := svc.Commit(ctx, user)
	if err != nil {
		var cc *domain.CommitConflictError
		if errors.As(err, &cc) {
			a.printf("commit rejected at entry %d: %s\n", cc.Seq, cc.Reason)
		}
		_ = svc.Discard(ctx, user)
		return err
	}
	a.printf("committed session %s with %d entries\n", result.SessionID, len(result.Entries))
	printViolations(a, result.Result)
	return nil
}

func stageScriptOp(ctx context.Context, svc *core.Service, user string, op scriptOp) (core.StagedOp, error) {
	switch op.Op {
	case "create":
		if op.Row == nil {
			return core.StagedOp{}, errors.New("create requires row")
		}
		return svc.ProposeCreate(ctx, user, *op.Row)
	case "move":
		return svc.ProposeMove(ctx, user, op.RowID, op.BayID, op.Start, op.End)
	case "resize":
		return svc.ProposeResize(ctx, user, op.RowID, op.Start, op.End)
	case "delete":
		return svc.ProposeDelete(ctx, user, op.RowID)
	case "create_bay":
		if op.Bay == nil {
			return core.StagedOp{}, errors.New("create_bay requires bay")
		}
		return svc.ProposeBayCreate(ctx, user, *op.Bay)
	case "update_bay":
		if op.Bay == nil {
			return core.StagedOp{}, errors.New("update_bay requires bay")
		}
		next := *op.Bay
		id := op.BayID
		if id == "" {
			id = next.ID
		}
		return svc.ProposeBayUpdate(ctx, user, id, func(b *core.Bay) error {
			next.ID, next.CreatedAt, next.UpdatedAt = b.ID, b.CreatedAt, b.UpdatedAt
			*b = next
			return nil
		})
	case "delete_bay":
		return svc.ProposeBayDelete(ctx, user, op.BayID)
	case "team_staffing":
		if op.Staffing == nil {
			return core.StagedOp{}, errors.New("team_staffing requires staffing")
		}
		return svc.ProposeTeamStaffing(ctx, user, op.Team, *op.Staffing)
	default:
		return core.StagedOp{}, fmt.Errorf("unknown op %q", op.Op)
	}
}
