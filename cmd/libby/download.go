package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shishobooks/libby/pkg/database"
	"github.com/shishobooks/libby/pkg/downloads"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/library"
	"github.com/shishobooks/libby/pkg/migrations"
	"github.com/shishobooks/libby/pkg/models"
	"github.com/shishobooks/libby/pkg/worker"
	"github.com/urfave/cli/v2"
)

func (e *env) downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "download loans into the output directory and record them in the library",
		ArgsUsage: "[loan-id...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "tag", Usage: "extra tag recorded on every downloaded title"},
		},
		Action: func(c *cli.Context) error {
			log := logger.FromContext(c.Context)

			client, err := e.lending()
			if err != nil {
				return err
			}
			catalog, err := e.catalog()
			if err != nil {
				return err
			}

			db, err := database.New(e.cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if _, err := migrations.BringUpToDate(c.Context, db); err != nil {
				return err
			}

			svc, err := downloads.NewService(e.cfg, client, catalog, library.NewService(db))
			if err != nil {
				return err
			}

			state, err := client.Sync(c.Context)
			if err != nil {
				return err
			}
			keys := map[libby.ID]string{}
			for _, card := range state.Cards {
				keys[card.CardID] = card.AdvantageKey
			}
			loans, err := selectLoans(state.Loans, c.Args().Slice())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			graceful := signals.Setup()
			go func() {
				select {
				case <-graceful:
					log.Info("stopping downloads")
					cancel()
				case <-ctx.Done():
				}
			}()

			var mu sync.Mutex
			failed := 0
			w := worker.New(e.cfg, db, svc, staticLoans(state.Loans), worker.Options{
				OnResult: func(r worker.Result) {
					mu.Lock()
					defer mu.Unlock()
					printResult(c, r)
					if r.Err != nil {
						failed++
					}
				},
			})
			if err := w.Start(ctx); err != nil {
				return err
			}

			for _, loan := range loans {
				key := keys[loan.CardID]
				if key == "" {
					key = loan.AdvantageKey
				}
				_, err := w.Enqueue(ctx, loan, downloads.Options{LibraryKey: key, Tags: c.StringSlice("tag")})
				if errcodes.IsInvalidArgument(err) {
					fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", libby.MediaTitle(loan, true), err)
					continue
				}
				if err != nil {
					w.Shutdown()
					return err
				}
			}

			w.Wait()
			w.Shutdown()
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d download(s) failed", failed), 1)
			}
			return nil
		},
	}
}

// selectLoans returns the loans named by ids, or every loan when ids is empty.
func selectLoans(loans []libby.Loan, ids []string) ([]libby.Loan, error) {
	if len(ids) == 0 {
		return loans, nil
	}
	byID := map[string]libby.Loan{}
	for _, l := range loans {
		byID[string(l.ID)] = l
	}
	selected := make([]libby.Loan, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			return nil, errcodes.NotFound(0, "Loan "+id+" is not active.", "")
		}
		selected = append(selected, l)
	}
	return selected, nil
}

// staticLoans serves the loans of the sync snapshot to resumed jobs.
type staticLoans []libby.Loan

func (s staticLoans) Loans(context.Context) ([]libby.Loan, error) {
	return s, nil
}

func printResult(c *cli.Context, r worker.Result) {
	title := ""
	if data, err := r.Job.DownloadData(); err == nil {
		title = data.Title
	}
	switch {
	case r.Err != nil && r.Job.Status == models.JobStatusPending:
		fmt.Fprintf(c.App.ErrWriter, "interrupted: %s\n", title)
	case r.Err != nil:
		fmt.Fprintf(c.App.ErrWriter, "failed: %s: %v\n", title, r.Err)
	case r.Download.Status == downloads.StatusSkipped:
		fmt.Fprintf(c.App.Writer, "skipped: %s (already in the library)\n", title)
	case r.Download.Path == "":
		fmt.Fprintf(c.App.Writer, "recorded: %s (%s)\n", title, r.Download.Format)
	default:
		fmt.Fprintf(c.App.Writer, "saved: %s -> %s\n", title, r.Download.Path)
	}
}
