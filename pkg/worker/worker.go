package worker

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/libby/pkg/config"
	"github.com/shishobooks/libby/pkg/downloads"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/joblogs"
	"github.com/shishobooks/libby/pkg/jobs"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

const progressStep = 10

type Downloader interface {
	Download(ctx context.Context, loan libby.Loan, opts downloads.Options) (*downloads.Result, error)
}

// LoanSource lists the active loans. It is used to resume jobs queued by an
// earlier process.
type LoanSource interface {
	Loans(ctx context.Context) ([]libby.Loan, error)
}

// Result is reported once for every job the worker finishes.
type Result struct {
	Job      *models.Job
	Download *downloads.Result
	Err      error
}

type Options struct {
	// OnResult is called from the processing goroutines.
	OnResult func(Result)
}

type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]func(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) (*downloads.Result, error)

	jobService    *jobs.Service
	jobLogService *joblogs.Service
	downloader    Downloader
	loanSource    LoanSource
	onResult      func(Result)

	ctx     context.Context
	started bool
	wg      sync.WaitGroup

	mu          sync.Mutex
	loans       map[string]libby.Loan
	loansLoaded bool
	dispatched  map[int]bool

	queue          chan *models.Job
	shutdown       chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB, downloader Downloader, loanSource LoanSource, opts Options) *Worker {
	w := &Worker{
		config: cfg,
		log:    logger.NewWithLevel(cfg.LogLevel),

		jobService:    jobs.NewService(db),
		jobLogService: joblogs.NewService(db),
		downloader:    downloader,
		loanSource:    loanSource,
		onResult:      opts.OnResult,

		loans:      map[string]libby.Loan{},
		dispatched: map[int]bool{},

		queue:          make(chan *models.Job, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}

	w.processFuncs = map[string]func(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) (*downloads.Result, error){
		models.JobTypeDownload: w.ProcessDownloadJob,
	}

	return w
}

// Enqueue records a download job for the loan and queues it.
func (w *Worker) Enqueue(ctx context.Context, loan libby.Loan, opts downloads.Options) (*models.Job, error) {
	active, err := w.jobService.HasActiveDownload(ctx, string(loan.ID))
	if err != nil {
		return nil, err
	}
	if active {
		return nil, errcodes.InvalidArgument("a download of loan " + string(loan.ID) + " is already queued")
	}

	job := &models.Job{
		Type:   models.JobTypeDownload,
		Status: models.JobStatusPending,
		DataParsed: &models.JobDownloadData{
			LoanID:     string(loan.ID),
			CardID:     string(loan.CardID),
			Title:      libby.MediaTitle(loan, true),
			LibraryKey: opts.LibraryKey,
			Tags:       opts.Tags,
		},
	}
	if err := w.jobService.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.loans[string(loan.ID)] = loan
	w.mu.Unlock()

	w.dispatch(job)
	return job, nil
}

// Start resumes jobs left unfinished by other processes and starts the
// processing goroutines. ctx bounds every download.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx

	j, err := w.jobService.ListJobs(ctx, jobs.ListJobsOptions{
		Type:               pointerutil.String(models.JobTypeDownload),
		Statuses:           []string{models.JobStatusPending, models.JobStatusInProgress},
		ProcessIDToExclude: &processID,
	})
	if err != nil {
		return err
	}

	w.started = true
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.processJobs()
	}
	for _, job := range j {
		w.log.Info("resuming job", logger.Data{"job_id": job.ID})
		w.dispatch(job)
	}
	return nil
}

func (w *Worker) dispatch(job *models.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dispatched[job.ID] {
		return
	}
	w.dispatched[job.ID] = true

	w.wg.Add(1)
	go func() {
		select {
		case w.queue <- job:
		case <-w.shutdown:
			w.wg.Done()
		}
	}()
}

// Wait blocks until every queued job has finished or the worker is shut
// down.
func (w *Worker) Wait() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-w.shutdown:
	}
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.processJob(job)
			w.wg.Done()
		}
	}
}

func (w *Worker) processJob(job *models.Job) {
	// Prep the context to be passed down to the process function.
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(w.ctx)
	// job bookkeeping outlives a cancelled download
	dbCtx := context.WithoutCancel(ctx)

	// Update job to be in progress and claimed by this process.
	job.Status = models.JobStatusInProgress
	job.ProcessID = &processID
	job.Progress = 0

	err = w.jobService.UpdateJob(dbCtx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "process_id", "progress"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
		return
	}

	jobLog := w.jobLogService.NewJobLogger(dbCtx, job.ID, log)
	jobLog.Info("job started", nil)

	// Find and invoke the appropriate process function.
	var res *downloads.Result
	fn, ok := w.processFuncs[job.Type]
	if !ok {
		err = errors.Errorf("can't find process function for type %q", job.Type)
	} else {
		res, err = fn(ctx, job, jobLog)
	}

	columns := []string{"status", "data", "progress", "error"}
	switch {
	case err == nil:
		job.Error = nil
		job.Progress = 100
		data := logger.Data{"status": job.Status}
		if res != nil {
			data["format"] = res.Format.String()
			data["path"] = res.Path
		}
		jobLog.Info("job finished", data)
	case ctx.Err() != nil:
		// Cancelled downloads are picked up again by the next process.
		jobLog.Warn("job interrupted", logger.Data{"error": err.Error()})
		job.Status = models.JobStatusPending
		columns = []string{"status"}
	default:
		jobLog.Error("process error", err, nil)
		job.Status = models.JobStatusFailed
		job.Error = pointerutil.String(err.Error())
	}

	if uerr := w.jobService.UpdateJob(dbCtx, job, jobs.UpdateJobOptions{Columns: columns}); uerr != nil {
		log.Err(uerr).Error("update job error")
	}
	w.report(Result{Job: job, Download: res, Err: err})
}

func (w *Worker) report(r Result) {
	if w.onResult != nil {
		w.onResult(r)
	}
}

// ProcessDownloadJob downloads the loan of a job and records the outcome on
// it.
func (w *Worker) ProcessDownloadJob(ctx context.Context, job *models.Job, jobLog *joblogs.JobLogger) (*downloads.Result, error) {
	data, err := job.DownloadData()
	if err != nil {
		return nil, err
	}
	loan, err := w.loan(ctx, data.LoanID)
	if err != nil {
		return nil, err
	}

	res, err := w.downloader.Download(ctx, loan, downloads.Options{
		LibraryKey: data.LibraryKey,
		Tags:       data.Tags,
		Progress:   w.progressUpdater(ctx, job),
		Log:        jobLog,
	})
	if err != nil {
		return nil, err
	}

	data.Format = res.Format.String()
	data.Filepath = res.Path
	job.Status = models.JobStatusCompleted
	if res.Status == downloads.StatusSkipped {
		job.Status = models.JobStatusSkipped
	}
	return res, nil
}

// progressUpdater stores the progress of a job in steps of progressStep
// percent. The final 100 is set once the job completes.
func (w *Worker) progressUpdater(ctx context.Context, job *models.Job) func(done, total int) {
	dbCtx := context.WithoutCancel(ctx)
	return func(done, total int) {
		if total <= 0 {
			return
		}
		progress := done * 100 / total
		if progress >= 100 {
			progress = 99
		}
		if progress-job.Progress < progressStep {
			return
		}
		job.Progress = progress
		err := w.jobService.UpdateJob(dbCtx, job, jobs.UpdateJobOptions{Columns: []string{"progress"}})
		if err != nil {
			logger.FromContext(ctx).Err(err).Warn("update job progress error")
		}
	}
}

// loan returns the loan a job refers to, listing the active loans once for
// jobs that were not enqueued by this process.
func (w *Worker) loan(ctx context.Context, loanID string) (libby.Loan, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if loan, ok := w.loans[loanID]; ok {
		return loan, nil
	}
	if !w.loansLoaded && w.loanSource != nil {
		loans, err := w.loanSource.Loans(ctx)
		if err != nil {
			return libby.Loan{}, err
		}
		for _, l := range loans {
			if _, ok := w.loans[string(l.ID)]; !ok {
				w.loans[string(l.ID)] = l
			}
		}
		w.loansLoaded = true
	}
	if loan, ok := w.loans[loanID]; ok {
		return loan, nil
	}
	return libby.Loan{}, errcodes.NotFound(0, "Loan "+loanID+" is no longer active.", "")
}

// Shutdown stops the processing goroutines once their current jobs finish.
// Jobs still queued stay pending.
func (w *Worker) Shutdown() {
	close(w.shutdown)

	if !w.started {
		return
	}
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
