package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusSkipped    = "skipped"
)

const (
	JobTypeDownload = "download"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         int         `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Type       string      `bun:",nullzero" json:"type"`
	Status     string      `bun:",nullzero" json:"status"`
	Data       string      `bun:",nullzero" json:"-"`
	DataParsed interface{} `bun:"-" json:"data"`
	Progress   int         `json:"progress"`
	ProcessID  *string     `json:"process_id,omitempty"`
	Error      *string     `json:"error,omitempty"`
}

func (job *Job) UnmarshalData() error {
	switch job.Type {
	case JobTypeDownload:
		job.DataParsed = &JobDownloadData{}
	default:
		return errors.Errorf("unknown job type %q", job.Type)
	}

	err := json.Unmarshal([]byte(job.Data), job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// DownloadData returns the parsed payload of a download job.
func (job *Job) DownloadData() (*JobDownloadData, error) {
	if job.DataParsed == nil {
		if err := job.UnmarshalData(); err != nil {
			return nil, err
		}
	}
	data, ok := job.DataParsed.(*JobDownloadData)
	if !ok {
		return nil, errors.Errorf("job %d is not a download job", job.ID)
	}
	return data, nil
}

// JobDownloadData identifies the loan a download job fulfills. Filepath is
// filled in once the job completes.
type JobDownloadData struct {
	LoanID     string   `json:"loan_id"`
	CardID     string   `json:"card_id"`
	Title      string   `json:"title,omitempty"`
	LibraryKey string   `json:"library_key,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Format     string   `json:"format,omitempty"`
	Filepath   string   `json:"filepath,omitempty"`
}
