package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/libby/pkg/config"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/shishobooks/libby/pkg/overdrive"
	"github.com/shishobooks/libby/pkg/version"
	"github.com/urfave/cli/v2"
)

// env is the state shared by every command. It is built in the app's Before
// hook.
type env struct {
	cfg *config.Config
	log logger.Logger
}

func newApp() *cli.App {
	e := &env{}
	return &cli.App{
		Name:    "libby",
		Usage:   "manage Libby loans and holds and download them",
		Version: version.Version,
		Before: func(c *cli.Context) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = logger.NewWithLevel(cfg.LogLevel)
			c.Context = e.log.WithContext(c.Context)
			return nil
		},
		Commands: []*cli.Command{
			e.loginCommand(),
			e.cardsCommand(),
			e.cardCommand(),
			e.loansCommand(),
			e.holdsCommand(),
			e.borrowCommand(),
			e.renewCommand(),
			e.returnCommand(),
			e.holdCommand(),
			e.searchCommand(),
			e.titleCommand(),
			e.librariesCommand(),
			e.downloadCommand(),
			e.tagsCommand(),
			e.libraryCommand(),
			e.jobsCommand(),
			e.dbCommand(),
		},
	}
}

func (e *env) lendingClient(identity string) (*libby.Client, error) {
	return libby.New(libby.Options{
		Identity:       identity,
		MaxRetries:     e.cfg.MaxRetries,
		Timeout:        e.cfg.Timeout,
		RetryBaseDelay: e.cfg.RetryBaseDelay,
		LendingPeriod:  e.cfg.Period(),
	})
}

// lending returns a client for the configured account.
func (e *env) lending() (*libby.Client, error) {
	if e.cfg.IdentityToken == "" {
		return nil, errors.New("not logged in: run `libby login <code>` and set IDENTITY_TOKEN")
	}
	return e.lendingClient(e.cfg.IdentityToken)
}

func (e *env) catalog() (*overdrive.Client, error) {
	return overdrive.New(overdrive.Options{
		MaxRetries:     e.cfg.MaxRetries,
		Timeout:        e.cfg.Timeout,
		RetryBaseDelay: e.cfg.RetryBaseDelay,
	})
}

func findLoan(ctx context.Context, client *libby.Client, loanID string) (libby.Loan, error) {
	loans, err := client.Loans(ctx)
	if err != nil {
		return libby.Loan{}, err
	}
	for _, l := range loans {
		if string(l.ID) == loanID {
			return l, nil
		}
	}
	return libby.Loan{}, errors.Errorf("no active loan %s", loanID)
}

func findHold(ctx context.Context, client *libby.Client, holdID string) (libby.Hold, error) {
	holds, err := client.Holds(ctx)
	if err != nil {
		return libby.Hold{}, err
	}
	for _, h := range holds {
		if string(h.ID) == holdID {
			return h, nil
		}
	}
	return libby.Hold{}, errors.Errorf("no hold %s", holdID)
}

func findCard(ctx context.Context, client *libby.Client, cardID string) (libby.Card, error) {
	cards, err := client.Cards(ctx)
	if err != nil {
		return libby.Card{}, err
	}
	for _, card := range cards {
		if string(card.CardID) == cardID {
			return card, nil
		}
	}
	return libby.Card{}, errors.Errorf("no card %s", cardID)
}

// table writes tab separated rows as aligned columns.
func table(w io.Writer, header string, rows [][]interface{}) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, col)
		}
		fmt.Fprintln(tw)
	}
	return errors.WithStack(tw.Flush())
}

func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() < n {
		return errors.Errorf("usage: %s %s", c.Command.FullName(), usage)
	}
	return nil
}
