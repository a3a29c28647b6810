package worker

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/cuongbtq/csv-export-service/internal/export/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exporterFixture struct {
	store    *fakeStore
	source   *fakeSource
	registry *registry.Registry
	dir      string
	exporter *Exporter
}

func newExporterFixture(t *testing.T, users []domain.User) *exporterFixture {
	t.Helper()
	f := &exporterFixture{
		store:    newFakeStore(),
		source:   &fakeSource{users: users},
		registry: registry.New(),
		dir:      filepath.Join(t.TempDir(), "exports"),
	}
	f.exporter = NewExporter(&ExporterConfig{
		Logger:    discardLogger(),
		Store:     f.store,
		Source:    f.source,
		Registry:  f.registry,
		ExportDir: f.dir,
	})
	return f
}

func (f *exporterFixture) addJob(mutate func(*domain.Job)) string {
	job := &domain.Job{ID: uuid.New().String()}
	if mutate != nil {
		mutate(job)
	}
	f.store.add(job)
	return job.ID
}

func (f *exporterFixture) dirEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readCSV(t *testing.T, path string, comma rune) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r := csv.NewReader(strings.NewReader(string(data)))
	r.Comma = comma
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestExporter_FullExportProgressCheckpoints(t *testing.T) {
	f := newExporterFixture(t, newUsers(12000, "US"))
	jobID := f.addJob(nil)

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	assert.Equal(t, []progressSnapshot{
		{ProcessedRows: 5000, TotalRows: 12000, Percentage: 41},
		{ProcessedRows: 10000, TotalRows: 12000, Percentage: 83},
		{ProcessedRows: 12000, TotalRows: 12000, Percentage: 100},
	}, f.store.progress(jobID))

	assert.Equal(t, []domain.Status{
		domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted,
	}, f.store.statusHistory(jobID))

	job := f.store.get(jobID)
	assert.Equal(t, 100, job.Percentage)
	assert.Equal(t, int64(12000), job.ProcessedRows)
	assert.Equal(t, int64(12000), job.TotalRows)
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.FilePath)
	assert.Equal(t, filepath.Join(f.dir, domain.ArtifactName(jobID)), *job.FilePath)

	records := readCSV(t, *job.FilePath, ',')
	require.Len(t, records, 12001)
	assert.Equal(t, domain.AllColumns(), records[0])
	assert.Equal(t, []string{"1", "User 1", "user1@example.com", "2024-01-01T00:00:00Z", "US", "free", "0.50"}, records[1])
	assert.Equal(t, "12000", records[12000][0])

	assert.Equal(t, []string{domain.ArtifactName(jobID)}, f.dirEntries(t), "no temp files may remain")
	assert.Equal(t, 0, f.registry.Len())
}

func TestExporter_SmallFilteredExportSingleUpdate(t *testing.T) {
	users := append(newUsers(42, "US"), newUsers(10, "GB")...)
	f := newExporterFixture(t, users)
	jobID := f.addJob(func(j *domain.Job) {
		j.Filters = domain.Filters{CountryCode: domain.Ptr("US")}
	})

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	assert.Equal(t, []progressSnapshot{
		{ProcessedRows: 42, TotalRows: 42, Percentage: 100},
	}, f.store.progress(jobID))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	require.NotNil(t, job.FilePath)

	records := readCSV(t, *job.FilePath, ',')
	assert.Len(t, records, 43)
	for _, rec := range records[1:] {
		assert.Equal(t, "US", rec[4])
	}
}

func TestExporter_ZeroRowsCompletesWithoutArtifact(t *testing.T) {
	f := newExporterFixture(t, newUsers(5, "GB"))
	jobID := f.addJob(func(j *domain.Job) {
		j.Filters = domain.Filters{CountryCode: domain.Ptr("US")}
	})

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Percentage)
	assert.Equal(t, int64(0), job.TotalRows)
	assert.Nil(t, job.FilePath)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, f.dirEntries(t))
}

func TestExporter_ColumnsAndDialect(t *testing.T) {
	users := newUsers(3, "US")
	users[1].Name = "O'Brien; Pat"
	f := newExporterFixture(t, users)
	jobID := f.addJob(func(j *domain.Job) {
		j.Columns = "name, bogus ,id"
		j.Delimiter = ';'
		j.QuoteChar = '\''
	})

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	job := f.store.get(jobID)
	require.NotNil(t, job.FilePath)
	data, err := os.ReadFile(*job.FilePath)
	require.NoError(t, err)

	assert.Equal(t, "name;id\r\nUser 1;1\r\n'O''Brien; Pat';2\r\nUser 3;3\r\n", string(data))
}

func TestExporter_CancelMidStream(t *testing.T) {
	f := newExporterFixture(t, newUsers(100, "US"))
	jobID := f.addJob(nil)

	f.source.onRow = func(n int) {
		if n == 10 {
			assert.True(t, f.registry.RequestCancel(jobID))
		}
	}

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusCancelled, job.Status)
	assert.Nil(t, job.FilePath)
	assert.Nil(t, job.Error)
	assert.Empty(t, f.dirEntries(t), "partial artifact must be removed")
	assert.Equal(t, 0, f.registry.Len())
	assert.NotContains(t, f.store.statusHistory(jobID), domain.StatusCompleted)
}

func TestExporter_DuplicateRunLeavesOwnerRegistered(t *testing.T) {
	f := newExporterFixture(t, newUsers(100, "US"))
	jobID := f.addJob(nil)

	f.source.onRow = func(n int) {
		if n == 1 {
			assert.NoError(t, f.exporter.Run(context.Background(), jobID))
			assert.True(t, f.registry.IsActive(jobID))
		}
	}

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, int64(100), job.ProcessedRows)
	require.NotNil(t, job.FilePath)
	assert.Len(t, readCSV(t, *job.FilePath, ','), 101)
	assert.Equal(t, 0, f.registry.Len())
}

func TestExporter_DuplicateRunKeepsRequestedCancel(t *testing.T) {
	f := newExporterFixture(t, newUsers(100, "US"))
	jobID := f.addJob(nil)

	f.source.onRow = func(n int) {
		if n == 10 {
			assert.True(t, f.registry.RequestCancel(jobID))
			assert.NoError(t, f.exporter.Run(context.Background(), jobID))
		}
	}

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusCancelled, job.Status)
	assert.Nil(t, job.FilePath)
	assert.Empty(t, f.dirEntries(t))
}

func TestExporter_DataSourceFailure(t *testing.T) {
	f := newExporterFixture(t, newUsers(100, "US"))
	f.source.failAt = 50
	jobID := f.addJob(nil)

	err := f.exporter.Run(context.Background(), jobID)
	require.Error(t, err)
	assert.Equal(t, domain.FailureDataSource, domain.FailureKindOf(err))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "connection reset by peer")
	assert.Nil(t, job.FilePath)
	assert.Empty(t, f.dirEntries(t))
	assert.Equal(t, 0, f.registry.Len())
}

func TestExporter_CountFailure(t *testing.T) {
	f := newExporterFixture(t, newUsers(10, "US"))
	f.source.countErr = errors.New("relation \"users\" does not exist")
	jobID := f.addJob(nil)

	err := f.exporter.Run(context.Background(), jobID)
	require.Error(t, err)

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "count rows")
}

func TestExporter_ProgressWriteFailure(t *testing.T) {
	f := newExporterFixture(t, newUsers(20, "US"))
	// first update persists total_rows, the second is the progress write
	f.store.updateErr = errors.New("database is locked")
	f.store.updateErrAt = 2
	jobID := f.addJob(nil)

	err := f.exporter.Run(context.Background(), jobID)
	require.Error(t, err)
	assert.Equal(t, domain.FailureStorage, domain.FailureKindOf(err))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Empty(t, f.dirEntries(t))
}

func TestExporter_ContextCancelledFailsAsInterrupted(t *testing.T) {
	f := newExporterFixture(t, newUsers(50, "US"))
	jobID := f.addJob(nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.source.onRow = func(n int) {
		if n == 5 {
			cancel()
		}
	}

	err := f.exporter.Run(ctx, jobID)
	require.Error(t, err)
	assert.Equal(t, domain.FailureInterrupted, domain.FailureKindOf(err))

	job := f.store.get(jobID)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Empty(t, f.dirEntries(t))
}

func TestExporter_SkipsJobThatIsNoLongerPending(t *testing.T) {
	f := newExporterFixture(t, newUsers(10, "US"))
	jobID := f.addJob(func(j *domain.Job) { j.Status = domain.StatusCancelled })

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	assert.Equal(t, domain.StatusCancelled, f.store.get(jobID).Status)
	assert.Empty(t, f.store.progress(jobID))
	assert.Empty(t, f.dirEntries(t))
	assert.Equal(t, 0, f.registry.Len())
}

func TestExporter_ForcedTerminalRemovesPublishedArtifact(t *testing.T) {
	f := newExporterFixture(t, newUsers(10, "US"))
	f.store.forceFinishN = true
	jobID := f.addJob(nil)

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	assert.Nil(t, f.store.get(jobID).FilePath)
	assert.Empty(t, f.dirEntries(t))
}

func TestExporter_RowsAddedAfterCountKeepInvariant(t *testing.T) {
	f := newExporterFixture(t, newUsers(10, "US"))
	f.source.extra = 3
	jobID := f.addJob(nil)

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	for _, snap := range f.store.progress(jobID) {
		assert.LessOrEqual(t, snap.ProcessedRows, snap.TotalRows)
	}
	job := f.store.get(jobID)
	assert.Equal(t, int64(13), job.TotalRows)
	assert.Equal(t, int64(13), job.ProcessedRows)
	require.NotNil(t, job.FilePath)
	assert.Len(t, readCSV(t, *job.FilePath, ','), 14)
}

func TestExporter_PercentageNeverDecreases(t *testing.T) {
	f := newExporterFixture(t, newUsers(23456, "US"))
	jobID := f.addJob(nil)

	require.NoError(t, f.exporter.Run(context.Background(), jobID))

	last := 0
	for _, snap := range f.store.progress(jobID) {
		assert.GreaterOrEqual(t, snap.Percentage, last)
		assert.LessOrEqual(t, snap.ProcessedRows, snap.TotalRows)
		last = snap.Percentage
	}
	assert.Equal(t, 100, last)
}
