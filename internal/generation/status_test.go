package generation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vizboardhq/vizboard/internal/db"
	"github.com/vizboardhq/vizboard/internal/generation"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/model"
	"gorm.io/gorm"
)

func newTestMachine(t *testing.T) (*gorm.DB, *generation.Machine, *model.Dashboard) {
	t.Helper()
	gdb, err := db.OpenSQLiteForTest()
	require.NoError(t, err)
	d := &model.Dashboard{
		WorkspaceID: "ws-1",
		OwnerID:     "owner-1",
		Slug:        "report",
		Title:       "Report",
		Status:      model.GenerationPending,
	}
	require.NoError(t, gdb.Create(d).Error)
	return gdb, generation.NewMachine(gdb, ledger.New(gdb)), d
}

func statusOf(t *testing.T, gdb *gorm.DB, id string) model.Dashboard {
	t.Helper()
	var d model.Dashboard
	require.NoError(t, gdb.First(&d, "id = ?", id).Error)
	return d
}

func artifact(html string) ledger.Snapshot {
	return ledger.Snapshot{Config: &model.DashboardConfig{HTML: html}, DataSource: "paste"}
}

func TestMachine_HappyPath(t *testing.T) {
	gdb, m, d := newTestMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Begin(ctx, d.ID))
	assert.Equal(t, model.GenerationGenerating, statusOf(t, gdb, d.ID).Status)

	v, err := m.Complete(ctx, d.ID, artifact("<div>done</div>"), model.ChangeInitial, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.MajorVersion)
	assert.Equal(t, 0, v.MinorVersion)

	fresh := statusOf(t, gdb, d.ID)
	assert.Equal(t, model.GenerationCompleted, fresh.Status)
	assert.Equal(t, 1, fresh.CurrentMajor)
	require.NotNil(t, fresh.Config)
	assert.Equal(t, "<div>done</div>", fresh.Config.HTML)
}

func TestMachine_FailAndRetry(t *testing.T) {
	gdb, m, d := newTestMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Begin(ctx, d.ID))
	require.NoError(t, m.Fail(ctx, d.ID, errors.New("model timeout")))

	fresh := statusOf(t, gdb, d.ID)
	assert.Equal(t, model.GenerationFailed, fresh.Status)
	assert.Equal(t, "model timeout", fresh.LastError)

	// failed -> generating is the retry edge, and it clears the error.
	require.NoError(t, m.Begin(ctx, d.ID))
	fresh = statusOf(t, gdb, d.ID)
	assert.Equal(t, model.GenerationGenerating, fresh.Status)
	assert.Empty(t, fresh.LastError)
}

func TestMachine_IllegalTransitions(t *testing.T) {
	gdb, m, d := newTestMachine(t)
	ctx := context.Background()

	// pending -> completed skips generating.
	_, err := m.Complete(ctx, d.ID, artifact("<div>x</div>"), model.ChangeInitial, "owner-1")
	assert.ErrorIs(t, err, generation.ErrBadTransition)

	require.NoError(t, m.Begin(ctx, d.ID))
	// generating -> generating is not a retry.
	assert.ErrorIs(t, m.Begin(ctx, d.ID), generation.ErrBadTransition)

	_, err = m.Complete(ctx, d.ID, artifact("<div>x</div>"), model.ChangeInitial, "owner-1")
	require.NoError(t, err)

	// completed is terminal for the status machine.
	assert.ErrorIs(t, m.Begin(ctx, d.ID), generation.ErrBadTransition)
	assert.ErrorIs(t, m.Fail(ctx, d.ID, errors.New("late")), generation.ErrBadTransition)

	// No stray version rows from the rejected transitions.
	var count int64
	require.NoError(t, gdb.Model(&model.DashboardVersion{}).Where("dashboard_id = ?", d.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestMachine_CompleteRejectsEmptyArtifact(t *testing.T) {
	gdb, m, d := newTestMachine(t)
	ctx := context.Background()
	require.NoError(t, m.Begin(ctx, d.ID))

	_, err := m.Complete(ctx, d.ID, ledger.Snapshot{}, model.ChangeInitial, "owner-1")
	assert.ErrorIs(t, err, generation.ErrEmptyArtifact)

	_, err = m.Complete(ctx, d.ID, ledger.Snapshot{Config: &model.DashboardConfig{}}, model.ChangeInitial, "owner-1")
	assert.ErrorIs(t, err, generation.ErrEmptyArtifact)

	// Still generating; no version row was written.
	assert.Equal(t, model.GenerationGenerating, statusOf(t, gdb, d.ID).Status)
	var count int64
	require.NoError(t, gdb.Model(&model.DashboardVersion{}).Where("dashboard_id = ?", d.ID).Count(&count).Error)
	assert.Zero(t, count)
}
