package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/libby/pkg/config"
	"github.com/shishobooks/libby/pkg/downloads"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/formats"
	"github.com/shishobooks/libby/pkg/joblogs"
	"github.com/shishobooks/libby/pkg/jobs"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/shishobooks/libby/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type fakeDownloader struct {
	mu      sync.Mutex
	loans   []libby.ID
	opts    map[libby.ID]downloads.Options
	failing map[libby.ID]error
	skipped map[libby.ID]bool
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		opts:    map[libby.ID]downloads.Options{},
		failing: map[libby.ID]error{},
		skipped: map[libby.ID]bool{},
	}
}

func (d *fakeDownloader) Download(_ context.Context, loan libby.Loan, opts downloads.Options) (*downloads.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loans = append(d.loans, loan.ID)
	d.opts[loan.ID] = opts
	if err := d.failing[loan.ID]; err != nil {
		return nil, err
	}
	res := &downloads.Result{Status: downloads.StatusCompleted, Format: formats.NewDescriptor(formats.EBookEPubOpen, false)}
	if d.skipped[loan.ID] {
		res.Status = downloads.StatusSkipped
		return res, nil
	}
	res.Path = "/out/" + string(loan.ID) + ".epub"
	return res, nil
}

type fakeLoans struct {
	loans []libby.Loan
	calls int
}

func (f *fakeLoans) Loans(_ context.Context) ([]libby.Loan, error) {
	f.calls++
	return f.loans, nil
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func testLoan(id string) libby.Loan {
	return libby.Loan{ID: libby.ID(id), CardID: "9", Type: libby.TypeRef{ID: "ebook"}, Title: "Title " + id}
}

func newTestWorker(t *testing.T, d Downloader, loans LoanSource) (*Worker, *bun.DB, *collector) {
	t.Helper()
	cfg := config.NewForTest()
	cfg.WorkerProcesses = 2
	db := testutils.NewDB(t)
	c := &collector{}
	return New(cfg, db, d, loans, Options{OnResult: c.add}), db, c
}

func retrieve(t *testing.T, db *bun.DB, id int) *models.Job {
	t.Helper()
	job, err := jobs.NewService(db).RetrieveJob(context.Background(), jobs.RetrieveJobOptions{ID: &id})
	require.NoError(t, err)
	return job
}

func TestWorkerProcessesQueuedDownloads(t *testing.T) {
	d := newFakeDownloader()
	d.failing["2"] = errcodes.Forbidden("Forbidden", "")
	d.skipped["3"] = true
	w, db, c := newTestWorker(t, d, nil)
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	queued := []*models.Job{}
	for _, id := range []string{"1", "2", "3"} {
		job, err := w.Enqueue(ctx, testLoan(id), downloads.Options{LibraryKey: "lapl", Tags: []string{"new"}})
		require.NoError(t, err)
		queued = append(queued, job)
	}
	w.Wait()
	w.Shutdown()

	assert.ElementsMatch(t, []libby.ID{"1", "2", "3"}, d.loans)
	assert.Equal(t, "lapl", d.opts["1"].LibraryKey)
	assert.Equal(t, []string{"new"}, d.opts["1"].Tags)
	assert.NotNil(t, d.opts["1"].Progress)
	assert.NotNil(t, d.opts["1"].Log)
	require.Len(t, c.results, 3)

	done := retrieve(t, db, queued[0].ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, pointerutil.String(processID), done.ProcessID)
	data, err := done.DownloadData()
	require.NoError(t, err)
	assert.Equal(t, "/out/1.epub", data.Filepath)
	assert.Equal(t, "ebook-epub-open", data.Format)
	assert.Equal(t, "Title 1", data.Title)

	failed := retrieve(t, db, queued[1].ID)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "Forbidden")

	skipped := retrieve(t, db, queued[2].ID)
	assert.Equal(t, models.JobStatusSkipped, skipped.Status)

	logs, err := joblogs.NewService(db).ListJobLogs(ctx, joblogs.ListJobLogsOptions{JobID: queued[0].ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "job started", logs[0].Message)
	assert.Equal(t, "job finished", logs[1].Message)
	assert.Equal(t, models.JobLogLevelInfo, logs[1].Level)

	errorLogs, err := joblogs.NewService(db).ListJobLogs(ctx, joblogs.ListJobLogsOptions{
		JobID:  queued[1].ID,
		Levels: []string{models.JobLogLevelError},
	})
	require.NoError(t, err)
	require.Len(t, errorLogs, 1)
	assert.Equal(t, "process error", errorLogs[0].Message)

	var failures int
	for _, r := range c.results {
		if r.Err != nil {
			failures++
			assert.True(t, errcodes.IsForbidden(r.Err))
			continue
		}
		assert.NotNil(t, r.Download)
	}
	assert.Equal(t, 1, failures)
}

func TestWorkerRejectsDuplicateDownloads(t *testing.T) {
	w, _, _ := newTestWorker(t, newFakeDownloader(), nil)
	ctx := context.Background()

	_, err := w.Enqueue(ctx, testLoan("1"), downloads.Options{})
	require.NoError(t, err)
	_, err = w.Enqueue(ctx, testLoan("1"), downloads.Options{})
	assert.True(t, errcodes.IsInvalidArgument(err))

	w.Shutdown()
}

func TestWorkerResumesJobsFromOtherProcesses(t *testing.T) {
	d := newFakeDownloader()
	loans := &fakeLoans{loans: []libby.Loan{testLoan("5"), testLoan("6")}}
	w, db, _ := newTestWorker(t, d, loans)
	ctx := context.Background()
	svc := jobs.NewService(db)

	orphaned := &models.Job{
		Type:       models.JobTypeDownload,
		Status:     models.JobStatusInProgress,
		ProcessID:  pointerutil.String("deadbeef"),
		DataParsed: &models.JobDownloadData{LoanID: "5", CardID: "9"},
	}
	require.NoError(t, svc.CreateJob(ctx, orphaned))
	pending := &models.Job{
		Type:       models.JobTypeDownload,
		DataParsed: &models.JobDownloadData{LoanID: "6", CardID: "9"},
	}
	require.NoError(t, svc.CreateJob(ctx, pending))
	returned := &models.Job{
		Type:       models.JobTypeDownload,
		DataParsed: &models.JobDownloadData{LoanID: "404", CardID: "9"},
	}
	require.NoError(t, svc.CreateJob(ctx, returned))
	finished := &models.Job{
		Type:       models.JobTypeDownload,
		Status:     models.JobStatusCompleted,
		DataParsed: &models.JobDownloadData{LoanID: "7", CardID: "9"},
	}
	require.NoError(t, svc.CreateJob(ctx, finished))

	require.NoError(t, w.Start(ctx))
	w.Wait()
	w.Shutdown()

	assert.ElementsMatch(t, []libby.ID{"5", "6"}, d.loans)
	assert.Equal(t, 1, loans.calls)
	assert.Equal(t, models.JobStatusCompleted, retrieve(t, db, orphaned.ID).Status)
	assert.Equal(t, models.JobStatusCompleted, retrieve(t, db, pending.ID).Status)

	gone := retrieve(t, db, returned.ID)
	assert.Equal(t, models.JobStatusFailed, gone.Status)
	require.NotNil(t, gone.Error)
	assert.Contains(t, *gone.Error, "no longer active")
}

func TestWorkerRequeuesCancelledDownloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := newFakeDownloader()
	d.failing["1"] = errors.WithStack(context.Canceled)
	w, db, _ := newTestWorker(t, cancellingDownloader{Downloader: d, cancel: cancel}, nil)

	job, err := w.Enqueue(ctx, testLoan("1"), downloads.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	w.Wait()
	w.Shutdown()

	got := retrieve(t, db, job.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.Error)
}

// cancellingDownloader cancels the worker context while a download runs.
type cancellingDownloader struct {
	Downloader
	cancel context.CancelFunc
}

func (d cancellingDownloader) Download(ctx context.Context, loan libby.Loan, opts downloads.Options) (*downloads.Result, error) {
	d.cancel()
	return d.Downloader.Download(ctx, loan, opts)
}

// progressDownloader reports half of the work done and records the stored
// progress of the running job.
type progressDownloader struct {
	db     *bun.DB
	stored []int
}

func (d *progressDownloader) Download(ctx context.Context, loan libby.Loan, opts downloads.Options) (*downloads.Result, error) {
	opts.Progress(1, 2)
	opts.Progress(2, 2)
	running, err := jobs.NewService(d.db).ListJobs(ctx, jobs.ListJobsOptions{Statuses: []string{models.JobStatusInProgress}})
	if err != nil {
		return nil, err
	}
	for _, job := range running {
		d.stored = append(d.stored, job.Progress)
	}
	return &downloads.Result{Status: downloads.StatusCompleted, Path: "/out/" + string(loan.ID) + ".epub"}, nil
}

func TestWorkerRecordsProgress(t *testing.T) {
	cfg := config.NewForTest()
	cfg.WorkerProcesses = 1
	db := testutils.NewDB(t)
	d := &progressDownloader{db: db}
	w := New(cfg, db, d, nil, Options{})
	ctx := context.Background()

	job, err := w.Enqueue(ctx, testLoan("1"), downloads.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	w.Wait()
	w.Shutdown()

	assert.Equal(t, []int{99}, d.stored)
	assert.Equal(t, 100, retrieve(t, db, job.ID).Progress)
}

func TestShutdownWithoutStart(t *testing.T) {
	w, _, _ := newTestWorker(t, newFakeDownloader(), nil)
	w.Shutdown()
	w.Wait()
}
