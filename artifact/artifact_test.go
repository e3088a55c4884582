package artifact_test

import (
	"context"
	"testing"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func newTestArtifactStore(t *testing.T) *artifact.Store {
	t.Helper()

	opts := &server.Options{JetStream: true, StoreDir: t.TempDir(), Port: -1}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	s, err := store.New(context.Background(), js, "test")
	require.NoError(t, err)
	return artifact.New(s)
}

func TestRegisterArtifactFirstVersion(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	art, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t1", JobID: "job-1", Type: store.ArtifactChart, Role: "summary",
		Filename: "chart.json", StorageKey: "s3://x/chart.json",
	})
	require.NoError(t, err)
	require.Equal(t, 1, art.Version)
	require.True(t, art.IsCurrent)
	require.Equal(t, store.ArtifactDraft, art.Status)
}

func TestRegisterArtifactSupersedesPrevious(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactChart, Role: "summary"})
	require.NoError(t, err)

	v2, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t2", JobID: "job-1", Type: store.ArtifactChart, Role: "summary"})
	require.NoError(t, err)

	require.Equal(t, 2, v2.Version)
	require.Equal(t, v1.ID, v2.ParentArtifactID)

	old, _, err := a.Get(ctx, v1.ID)
	require.NoError(t, err)
	require.False(t, old.IsCurrent)

	current, err := a.Current(ctx, "job-1", store.ArtifactChart, "summary")
	require.NoError(t, err)
	require.Equal(t, v2.ID, current.ID)
}

func TestDistinctRolesVersionIndependently(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	_, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactChart, Role: "summary"})
	require.NoError(t, err)
	detail, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t2", JobID: "job-1", Type: store.ArtifactChart, Role: "detail"})
	require.NoError(t, err)

	require.Equal(t, 1, detail.Version)
}

func TestPromoteFollowsLifecycle(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	art, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactPDF, Role: "report"})
	require.NoError(t, err)

	require.NoError(t, a.Promote(ctx, art.ID, "alice", store.ArtifactApproved))
	require.NoError(t, a.Promote(ctx, art.ID, "alice", store.ArtifactFrozen))

	got, _, err := a.Get(ctx, art.ID)
	require.NoError(t, err)
	require.Equal(t, store.ArtifactFrozen, got.Status)
	require.NotNil(t, got.FrozenAt)

	// Frozen is immutable: no further transition is allowed.
	err = a.Promote(ctx, art.ID, "alice", store.ArtifactApproved)
	require.Error(t, err)
}

func TestPromoteRejectsSkippingApproval(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	art, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactPDF, Role: "report"})
	require.NoError(t, err)

	err = a.Promote(ctx, art.ID, "alice", store.ArtifactFrozen)
	require.Error(t, err)
}

func TestOnlyOneFrozenArtifactPerRole(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactPDF, Role: "report"})
	require.NoError(t, err)
	require.NoError(t, a.Promote(ctx, v1.ID, "alice", store.ArtifactApproved))
	require.NoError(t, a.Promote(ctx, v1.ID, "alice", store.ArtifactFrozen))

	v2, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t2", JobID: "job-1", Type: store.ArtifactPDF, Role: "report"})
	require.NoError(t, err)
	require.NoError(t, a.Promote(ctx, v2.ID, "alice", store.ArtifactApproved))

	err = a.Promote(ctx, v2.ID, "alice", store.ArtifactFrozen)
	require.Error(t, err)
}

func TestDiffChartAddedRemovedPoints(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t1", JobID: "job-1", Type: store.ArtifactChart, Role: "summary",
		Metadata: map[string]any{
			"title": "Q1", "chart_type": "bar",
			"series": []any{
				map[string]any{"data": []any{map[string]any{"x": "jan", "y": float64(1)}}},
			},
		},
	})
	require.NoError(t, err)

	v2, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t2", JobID: "job-1", Type: store.ArtifactChart, Role: "summary",
		Metadata: map[string]any{
			"title": "Q1 revised", "chart_type": "bar",
			"series": []any{
				map[string]any{"data": []any{map[string]any{"x": "feb", "y": float64(2)}}},
			},
		},
	})
	require.NoError(t, err)

	diff, err := a.Diff(ctx, v1.ID, v2.ID)
	require.NoError(t, err)
	require.Contains(t, diff.Changed, "title")
	require.Contains(t, diff.Added, "feb:2")
	require.Contains(t, diff.Removed, "jan:1")
}

func TestDiffUnsupportedTypeErrors(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactImage, Role: "thumb"})
	require.NoError(t, err)
	v2, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t2", JobID: "job-1", Type: store.ArtifactImage, Role: "thumb"})
	require.NoError(t, err)

	_, err = a.Diff(ctx, v1.ID, v2.ID)
	require.ErrorIs(t, err, artifact.ErrUnsupportedDiffType)
}

func TestDiffRejectsMismatchedRole(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t1", JobID: "job-1", Type: store.ArtifactChart, Role: "summary",
		Metadata: map[string]any{"title": "Q1", "chart_type": "bar"},
	})
	require.NoError(t, err)
	v2, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t2", JobID: "job-1", Type: store.ArtifactChart, Role: "detail",
		Metadata: map[string]any{"title": "Q1", "chart_type": "bar"},
	})
	require.NoError(t, err)

	_, err = a.Diff(ctx, v1.ID, v2.ID)
	require.ErrorIs(t, err, artifact.ErrMismatchedArtifacts)
}

func TestDiffRejectsMismatchedJob(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t1", JobID: "job-1", Type: store.ArtifactChart, Role: "summary",
		Metadata: map[string]any{"title": "Q1", "chart_type": "bar"},
	})
	require.NoError(t, err)
	v2, err := a.RegisterArtifact(ctx, artifact.Report{
		TaskID: "t2", JobID: "job-2", Type: store.ArtifactChart, Role: "summary",
		Metadata: map[string]any{"title": "Q1", "chart_type": "bar"},
	})
	require.NoError(t, err)

	_, err = a.Diff(ctx, v1.ID, v2.ID)
	require.ErrorIs(t, err, artifact.ErrMismatchedArtifacts)
}

func TestVersionsWalksChain(t *testing.T) {
	a := newTestArtifactStore(t)
	ctx := context.Background()

	v1, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t1", JobID: "job-1", Type: store.ArtifactText, Role: "notes"})
	require.NoError(t, err)
	v2, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t2", JobID: "job-1", Type: store.ArtifactText, Role: "notes"})
	require.NoError(t, err)
	v3, err := a.RegisterArtifact(ctx, artifact.Report{TaskID: "t3", JobID: "job-1", Type: store.ArtifactText, Role: "notes"})
	require.NoError(t, err)

	versions, err := a.Versions(ctx, "job-1", store.ArtifactText, "notes")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	require.Equal(t, v1.ID, versions[0].ID)
	require.Equal(t, v2.ID, versions[1].ID)
	require.Equal(t, v3.ID, versions[2].ID)
}
