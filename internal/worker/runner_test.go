package worker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vizboardhq/vizboard/internal/db"
	"github.com/vizboardhq/vizboard/internal/generation"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/model"
	"github.com/vizboardhq/vizboard/internal/worker"
	"gorm.io/gorm"
)

func newNullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// failingAgent simulates a provider outage.
type failingAgent struct{}

func (failingAgent) Generate(context.Context, generation.Request) (*model.DashboardConfig, error) {
	return nil, errors.New("provider unavailable")
}

func newRunnerFixture(t *testing.T, agent generation.Agent) (*gorm.DB, *worker.Runner) {
	t.Helper()
	gdb, err := db.OpenSQLiteForTest()
	require.NoError(t, err)
	machine := generation.NewMachine(gdb, ledger.New(gdb))
	return gdb, worker.NewRunner(gdb, agent, machine, newNullLogger())
}

func seedPending(t *testing.T, gdb *gorm.DB, orgID *string) *model.Dashboard {
	t.Helper()
	d := &model.Dashboard{
		WorkspaceID:    "ws-1",
		OrganizationID: orgID,
		OwnerID:        "owner-1",
		Slug:           "sales",
		Title:          "Sales",
		Status:         model.GenerationPending,
		RawContent:     "region,revenue\nNorth,100\nSouth,50\n",
		Data:           "region,revenue\nNorth,100\nSouth,50\n",
		DataSource:     "paste",
	}
	require.NoError(t, gdb.Create(d).Error)
	return d
}

func TestRun_CompletesAndWritesInitialVersion(t *testing.T) {
	gdb, r := newRunnerFixture(t, &generation.HeuristicAgent{})
	d := seedPending(t, gdb, nil)

	require.NoError(t, r.Run(context.Background(), worker.GenerateArgs{DashboardID: d.ID}))

	var fresh model.Dashboard
	require.NoError(t, gdb.First(&fresh, "id = ?", d.ID).Error)
	assert.Equal(t, model.GenerationCompleted, fresh.Status)
	assert.Equal(t, 1, fresh.CurrentMajor)
	assert.Equal(t, 0, fresh.CurrentMinor)
	require.NotNil(t, fresh.Config)
	assert.NotEmpty(t, fresh.Config.HTML)

	var v model.DashboardVersion
	require.NoError(t, gdb.First(&v, "dashboard_id = ?", d.ID).Error)
	assert.Equal(t, model.ChangeInitial, v.ChangeType)
}

func TestRun_SecondRunIsAIModification(t *testing.T) {
	gdb, r := newRunnerFixture(t, &generation.HeuristicAgent{})
	d := seedPending(t, gdb, nil)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, worker.GenerateArgs{DashboardID: d.ID}))

	// Modify flow: the dashboard stays completed; the job appends a version.
	require.NoError(t, r.Run(ctx, worker.GenerateArgs{DashboardID: d.ID, Instruction: "focus on revenue"}))

	var fresh model.Dashboard
	require.NoError(t, gdb.First(&fresh, "id = ?", d.ID).Error)
	assert.Equal(t, model.GenerationCompleted, fresh.Status)

	var versions []model.DashboardVersion
	require.NoError(t, gdb.Where("dashboard_id = ?", d.ID).
		Order("major_version, minor_version").Find(&versions).Error)
	require.Len(t, versions, 2)
	assert.Equal(t, model.ChangeAIModification, versions[1].ChangeType)
	assert.Equal(t, 1, versions[1].MajorVersion)
	assert.Equal(t, 1, versions[1].MinorVersion)
}

func TestRun_ModifyFailureKeepsContentLive(t *testing.T) {
	gdb, r := newRunnerFixture(t, &generation.HeuristicAgent{})
	d := seedPending(t, gdb, nil)
	ctx := context.Background()
	require.NoError(t, r.Run(ctx, worker.GenerateArgs{DashboardID: d.ID}))

	failing := worker.NewRunner(gdb, failingAgent{}, generation.NewMachine(gdb, ledger.New(gdb)), newNullLogger())
	require.NoError(t, failing.Run(ctx, worker.GenerateArgs{DashboardID: d.ID, Instruction: "x"}))

	var fresh model.Dashboard
	require.NoError(t, gdb.First(&fresh, "id = ?", d.ID).Error)
	// Still completed, prior artifact still live, failure surfaced.
	assert.Equal(t, model.GenerationCompleted, fresh.Status)
	require.NotNil(t, fresh.Config)
	assert.NotEmpty(t, fresh.Config.HTML)
	assert.Contains(t, fresh.LastError, "provider unavailable")
}

func TestRun_AgentFailureLandsInFailed(t *testing.T) {
	gdb, r := newRunnerFixture(t, failingAgent{})
	d := seedPending(t, gdb, nil)

	// Agent failure is not a queue error; the job completes.
	require.NoError(t, r.Run(context.Background(), worker.GenerateArgs{DashboardID: d.ID}))

	var fresh model.Dashboard
	require.NoError(t, gdb.First(&fresh, "id = ?", d.ID).Error)
	assert.Equal(t, model.GenerationFailed, fresh.Status)
	assert.Contains(t, fresh.LastError, "provider unavailable")

	var count int64
	require.NoError(t, gdb.Model(&model.DashboardVersion{}).Where("dashboard_id = ?", d.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRun_SpendsOrganizationCredit(t *testing.T) {
	gdb, r := newRunnerFixture(t, &generation.HeuristicAgent{})
	org := &model.Organization{Name: "Acme", Slug: "acme", CreditsBalance: 2}
	require.NoError(t, gdb.Create(org).Error)
	d := seedPending(t, gdb, &org.ID)

	require.NoError(t, r.Run(context.Background(), worker.GenerateArgs{DashboardID: d.ID}))

	var fresh model.Organization
	require.NoError(t, gdb.First(&fresh, "id = ?", org.ID).Error)
	assert.Equal(t, 1, fresh.CreditsBalance)
}

func TestInlineQueue_RunsEnqueuedJobs(t *testing.T) {
	gdb, err := db.OpenSQLiteForTest()
	require.NoError(t, err)
	machine := generation.NewMachine(gdb, ledger.New(gdb))
	runner := worker.NewRunner(gdb, &generation.HeuristicAgent{}, machine, newNullLogger())
	d := seedPending(t, gdb, nil)

	q, err := worker.New(context.Background(), nil, "sqlite", 2, runner, newNullLogger())
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Enqueue(context.Background(), worker.GenerateArgs{DashboardID: d.ID}))

	// Stop drains the channel and waits for in-flight jobs.
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))

	var fresh model.Dashboard
	require.NoError(t, gdb.First(&fresh, "id = ?", d.ID).Error)
	assert.Equal(t, model.GenerationCompleted, fresh.Status)
}
