package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveJobOptions struct {
	ID *int
}

type ListJobsOptions struct {
	Limit              *int
	Offset             *int
	Type               *string
	Statuses           []string
	LoanID             *string
	ProcessIDToExclude *string
	// NewestFirst orders by creation time descending. Workers process in
	// the default oldest-first order.
	NewestFirst bool

	includeTotal bool
}

// finishedStatuses are the statuses a job never leaves on its own.
var finishedStatuses = []string{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusSkipped}

type UpdateJobOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func notFound() error {
	return errcodes.NotFound(0, "Job not found.", "")
}

func (svc *Service) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	if job.Data == "" && job.DataParsed != nil {
		// Marshal the data into a JSON string to save into the database.
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	}

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.Job, error) {
	job := &models.Job{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("j.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound()
		}
		return nil, errors.WithStack(err)
	}

	if job.Data != "" {
		err := job.UnmarshalData()
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return job, nil
}

func (svc *Service) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	j, _, err := svc.listJobsWithTotal(ctx, opts)
	return j, errors.WithStack(err)
}

func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	opts.includeTotal = true
	return svc.listJobsWithTotal(ctx, opts)
}

func (svc *Service) listJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	jobs := []*models.Job{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&jobs)

	if opts.NewestFirst {
		q = q.Order("j.created_at DESC", "j.id DESC")
	} else {
		q = q.Order("j.created_at ASC", "j.id ASC")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Type != nil {
		q = q.Where("j.type = ?", *opts.Type)
	}
	q = whereStatuses(q, opts.Statuses)
	if opts.LoanID != nil {
		q = q.Where("json_extract(j.data, '$.loan_id') = ?", *opts.LoanID)
	}
	if opts.ProcessIDToExclude != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("j.process_id IS NULL").
				WhereOr("j.process_id != ?", *opts.ProcessIDToExclude)
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, job := range jobs {
		err := job.UnmarshalData()
		if err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return jobs, total, nil
}

func whereStatuses(q *bun.SelectQuery, statuses []string) *bun.SelectQuery {
	if statuses == nil {
		return q
	}
	return q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
		for _, s := range statuses {
			sq = sq.WhereOr("j.status = ?", s)
		}
		return sq
	})
}

// HasActiveDownload checks if there's a pending or in-progress download of
// the given loan.
func (svc *Service) HasActiveDownload(ctx context.Context, loanID string) (bool, error) {
	q := svc.db.NewSelect().
		Model((*models.Job)(nil)).
		Where("j.type = ?", models.JobTypeDownload).
		Where("json_extract(j.data, '$.loan_id') = ?", loanID)
	count, err := whereStatuses(q, []string{models.JobStatusPending, models.JobStatusInProgress}).Count(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// RequeueJob puts a finished job that did not complete back in the pending
// state so the next worker run picks it up again.
func (svc *Service) RequeueJob(ctx context.Context, id int) (*models.Job, error) {
	job, err := svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusSkipped {
		return nil, errcodes.InvalidArgument("Only failed or skipped jobs can be retried.")
	}
	if job.Type == models.JobTypeDownload {
		data, err := job.DownloadData()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		active, err := svc.HasActiveDownload(ctx, data.LoanID)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, errcodes.InvalidArgument("A download of loan " + data.LoanID + " is already queued.")
		}
	}

	job.Status = models.JobStatusPending
	job.Progress = 0
	job.ProcessID = nil
	job.Error = nil
	err = svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "progress", "process_id", "error"}})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DeleteFinishedJobsBefore removes completed, failed and skipped jobs last
// updated before the cutoff, along with their logs.
func (svc *Service) DeleteFinishedJobsBefore(ctx context.Context, before time.Time) (int, error) {
	res, err := svc.db.NewDelete().
		Model((*models.Job)(nil)).
		Where("updated_at < ?", before).
		Where("status IN (?)", bun.In(finishedStatuses)).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(n), nil
}

func (svc *Service) UpdateJob(ctx context.Context, job *models.Job, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	if job.DataParsed != nil {
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	}

	// Update updated_at.
	now := time.Now()
	job.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound()
	}

	return nil
}
