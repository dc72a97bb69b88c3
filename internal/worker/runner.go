package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vizboardhq/vizboard/internal/generation"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

// Runner executes one generation job end to end: status transition, agent
// call, atomic completion (version row + status), credit accounting.
// It is shared by the River worker and the inline queue.
type Runner struct {
	db      *gorm.DB
	agent   generation.Agent
	machine *generation.Machine
	log     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(db *gorm.DB, agent generation.Agent, machine *generation.Machine, log *slog.Logger) *Runner {
	return &Runner{db: db, agent: agent, machine: machine, log: log}
}

// Run processes a single job. Agent failures land the dashboard in failed
// with the message retained; only infrastructure errors propagate to the
// queue for retry.
func (r *Runner) Run(ctx context.Context, args GenerateArgs) error {
	var d model.Dashboard
	if err := r.db.WithContext(ctx).First(&d, "id = ?", args.DashboardID).Error; err != nil {
		return fmt.Errorf("load dashboard %s: %w", args.DashboardID, err)
	}

	// A modification of a completed dashboard is a version write, not a
	// state regression: the current content stays live throughout.
	if d.Status == model.GenerationCompleted {
		return r.modify(ctx, &d, args)
	}

	if err := r.machine.Begin(ctx, d.ID); err != nil {
		return fmt.Errorf("begin generation: %w", err)
	}

	req := generation.Request{
		Title:       d.Title,
		RawData:     d.Data,
		DataSource:  d.DataSource,
		Instruction: args.Instruction,
		Previous:    d.Config,
	}
	cfg, err := r.agent.Generate(ctx, req)
	if err != nil {
		r.log.Warn("generation agent failed", "dashboard_id", d.ID, "err", err)
		if ferr := r.machine.Fail(ctx, d.ID, err); ferr != nil {
			return fmt.Errorf("record generation failure: %w", ferr)
		}
		return nil
	}

	changeType := model.ChangeInitial
	if d.CurrentMajor > 0 {
		changeType = model.ChangeAIModification
	}
	snap := ledger.Snapshot{
		Config:     cfg,
		RawContent: d.RawContent,
		Data:       d.Data,
		DataSource: d.DataSource,
	}
	if _, err := r.machine.Complete(ctx, d.ID, snap, changeType, "agent"); err != nil {
		if ferr := r.machine.Fail(ctx, d.ID, err); ferr != nil {
			r.log.Error("could not record completion failure", "dashboard_id", d.ID, "err", ferr)
		}
		return fmt.Errorf("complete generation: %w", err)
	}

	if d.OrganizationID != nil {
		if err := r.spendCredit(ctx, *d.OrganizationID); err != nil {
			// Accounting only; the artifact is already live.
			r.log.Error("credit decrement failed", "org_id", *d.OrganizationID, "err", err)
		}
	}
	r.log.Info("generation completed", "dashboard_id", d.ID, "change_type", changeType)
	return nil
}

// modify runs the agent against the live content and appends an
// ai_modification version. The dashboard remains completed the whole time;
// an agent failure only records last_error for owner-facing display.
func (r *Runner) modify(ctx context.Context, d *model.Dashboard, args GenerateArgs) error {
	req := generation.Request{
		Title:       d.Title,
		RawData:     d.Data,
		DataSource:  d.DataSource,
		Instruction: args.Instruction,
		Previous:    d.Config,
	}
	cfg, err := r.agent.Generate(ctx, req)
	if err != nil {
		r.log.Warn("modification agent failed", "dashboard_id", d.ID, "err", err)
		return r.db.WithContext(ctx).Model(d).Update("last_error", err.Error()).Error
	}

	snap := ledger.Snapshot{
		Config:     cfg,
		RawContent: d.RawContent,
		Data:       d.Data,
		DataSource: d.DataSource,
	}
	if _, err := ledger.New(r.db).CreateVersion(ctx, d.ID, snap, model.ChangeAIModification, "agent", false); err != nil {
		return fmt.Errorf("append modification version: %w", err)
	}

	if d.OrganizationID != nil {
		if err := r.spendCredit(ctx, *d.OrganizationID); err != nil {
			r.log.Error("credit decrement failed", "org_id", *d.OrganizationID, "err", err)
		}
	}
	r.log.Info("modification completed", "dashboard_id", d.ID)
	return nil
}

func (r *Runner) spendCredit(ctx context.Context, orgID string) error {
	return r.db.WithContext(ctx).Model(&model.Organization{}).
		Where("id = ? AND credits_balance > 0", orgID).
		UpdateColumn("credits_balance", gorm.Expr("credits_balance - 1")).Error
}
