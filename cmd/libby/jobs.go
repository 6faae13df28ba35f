package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rickb777/date/period"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/joblogs"
	"github.com/shishobooks/libby/pkg/jobs"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/urfave/cli/v2"
	"github.com/uptrace/bun"
)

func (e *env) withDB(c *cli.Context, fn func(db *bun.DB) error) error {
	db, err := e.openDB(c)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (e *env) jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "inspect recorded download jobs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list download jobs",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "only jobs with this status"},
					&cli.StringFlag{Name: "loan", Usage: "only downloads of this loan id"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
				},
				Action: func(c *cli.Context) error {
					return e.withDB(c, func(db *bun.DB) error {
						opts := jobs.ListJobsOptions{
							Type:        pointerutil.String(models.JobTypeDownload),
							Limit:       pointerutil.Int(c.Int("limit")),
							Offset:      pointerutil.Int(c.Int("offset")),
							NewestFirst: true,
						}
						if loan := c.String("loan"); loan != "" {
							opts.LoanID = &loan
						}
						if statuses := c.StringSlice("status"); len(statuses) > 0 {
							opts.Statuses = statuses
						}
						list, total, err := jobs.NewService(db).ListJobsWithTotal(c.Context, opts)
						if err != nil {
							return err
						}
						rows := [][]interface{}{}
						for _, job := range list {
							data, err := job.DownloadData()
							if err != nil {
								return err
							}
							rows = append(rows, []interface{}{
								job.ID,
								jobStatus(job),
								data.LoanID,
								data.Title,
								job.UpdatedAt.Local().Format(time.DateTime),
							})
						}
						if err := table(c.App.Writer, "JOB\tSTATUS\tLOAN\tTITLE\tUPDATED", rows); err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "showing %d of %d\n", len(list), total)
						return nil
					})
				},
			},
			{
				Name:      "logs",
				Usage:     "show the log of a job",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "level", Usage: "only entries at this level"},
					&cli.BoolFlag{Name: "stack", Usage: "print stack traces of errors"},
				},
				Action: func(c *cli.Context) error {
					jobID, err := jobIDArg(c)
					if err != nil {
						return err
					}
					return e.withDB(c, func(db *bun.DB) error {
						if _, err := jobs.NewService(db).RetrieveJob(c.Context, jobs.RetrieveJobOptions{ID: &jobID}); err != nil {
							return err
						}
						logs, err := joblogs.NewService(db).ListJobLogs(c.Context, joblogs.ListJobLogsOptions{
							JobID:  jobID,
							Levels: c.StringSlice("level"),
						})
						if err != nil {
							return err
						}
						for _, l := range logs {
							line := fmt.Sprintf("%s %-5s %s", l.CreatedAt.Local().Format(time.DateTime), l.Level, l.Message)
							if l.Data != nil {
								line += " " + *l.Data
							}
							fmt.Fprintln(c.App.Writer, line)
							if c.Bool("stack") && l.StackTrace != nil {
								fmt.Fprintln(c.App.Writer, *l.StackTrace)
							}
						}
						return nil
					})
				},
			},
			{
				Name:      "retry",
				Usage:     "queue a failed or skipped download again",
				ArgsUsage: "<job-id>",
				Action: func(c *cli.Context) error {
					jobID, err := jobIDArg(c)
					if err != nil {
						return err
					}
					return e.withDB(c, func(db *bun.DB) error {
						job, err := jobs.NewService(db).RequeueJob(c.Context, jobID)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "job %d is pending; it runs with the next download\n", job.ID)
						return nil
					})
				},
			},
			{
				Name:  "prune",
				Usage: "delete job logs older than a period",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "older-than", Value: "P30D", Usage: "ISO 8601 period"},
					&cli.BoolFlag{Name: "jobs", Usage: "also delete finished jobs"},
				},
				Action: func(c *cli.Context) error {
					p, err := period.Parse(c.String("older-than"))
					if err != nil {
						return errcodes.InvalidArgument("Invalid period: " + c.String("older-than"))
					}
					cutoff := time.Now().Add(-p.DurationApprox())
					return e.withDB(c, func(db *bun.DB) error {
						if c.Bool("jobs") {
							n, err := jobs.NewService(db).DeleteFinishedJobsBefore(c.Context, cutoff)
							if err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "deleted %d jobs\n", n)
						}
						n, err := joblogs.NewService(db).DeleteJobLogsBefore(c.Context, cutoff)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "deleted %d log entries\n", n)
						return nil
					})
				},
			},
		},
	}
}

func jobIDArg(c *cli.Context) (int, error) {
	if err := requireArgs(c, 1, "<job-id>"); err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return 0, errcodes.InvalidArgument("Job id must be a number.")
	}
	return id, nil
}

// jobStatus shows the progress of running jobs next to their status.
func jobStatus(job *models.Job) string {
	if job.Status == models.JobStatusInProgress {
		return fmt.Sprintf("%s %d%%", job.Status, job.Progress)
	}
	return job.Status
}
