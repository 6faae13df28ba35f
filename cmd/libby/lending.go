package main

import (
	"fmt"

	"github.com/shishobooks/libby/pkg/libby"
	"github.com/urfave/cli/v2"
)

func (e *env) borrowCommand() *cli.Command {
	return &cli.Command{
		Name:      "borrow",
		Usage:     "borrow a title with a card",
		ArgsUsage: "<title-id> <card-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "lucky-day", Usage: "borrow a Lucky Day copy"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2, "<title-id> <card-id>"); err != nil {
				return err
			}
			client, err := e.lending()
			if err != nil {
				return err
			}
			catalog, err := e.catalog()
			if err != nil {
				return err
			}
			media, err := catalog.Media(c.Context, libby.ID(c.Args().Get(0)))
			if err != nil {
				return err
			}
			card, err := findCard(c.Context, client, c.Args().Get(1))
			if err != nil {
				return err
			}
			loan, err := client.BorrowMedia(c.Context, media.ID, media.Type.Media(), card, c.Bool("lucky-day"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Borrowed %q, due %s\n", libby.MediaTitle(*loan, true), loan.ExpireDate)
			return nil
		},
	}
}

func (e *env) renewCommand() *cli.Command {
	return &cli.Command{
		Name:      "renew",
		Usage:     "renew a loan",
		ArgsUsage: "<loan-id>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<loan-id>"); err != nil {
				return err
			}
			client, err := e.lending()
			if err != nil {
				return err
			}
			loan, err := findLoan(c.Context, client, c.Args().First())
			if err != nil {
				return err
			}
			renewed, err := client.RenewLoan(c.Context, loan)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Renewed %q, due %s\n", libby.MediaTitle(*renewed, true), renewed.ExpireDate)
			return nil
		},
	}
}

func (e *env) returnCommand() *cli.Command {
	return &cli.Command{
		Name:      "return",
		Usage:     "return a loan",
		ArgsUsage: "<loan-id>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<loan-id>"); err != nil {
				return err
			}
			client, err := e.lending()
			if err != nil {
				return err
			}
			loan, err := findLoan(c.Context, client, c.Args().First())
			if err != nil {
				return err
			}
			if err := client.ReturnLoan(c.Context, loan); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Returned %q\n", libby.MediaTitle(loan, true))
			return nil
		},
	}
}

func (e *env) holdCommand() *cli.Command {
	// withHold resolves the hold named by the first argument.
	withHold := func(fn func(c *cli.Context, client *libby.Client, hold libby.Hold) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<hold-id>"); err != nil {
				return err
			}
			client, err := e.lending()
			if err != nil {
				return err
			}
			hold, err := findHold(c.Context, client, c.Args().First())
			if err != nil {
				return err
			}
			return fn(c, client, hold)
		}
	}

	return &cli.Command{
		Name:  "hold",
		Usage: "manage holds",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "place a hold on a title",
				ArgsUsage: "<title-id> <card-id>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2, "<title-id> <card-id>"); err != nil {
						return err
					}
					client, err := e.lending()
					if err != nil {
						return err
					}
					card, err := findCard(c.Context, client, c.Args().Get(1))
					if err != nil {
						return err
					}
					hold, err := client.CreateHoldForCard(c.Context, libby.ID(c.Args().Get(0)), card)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Placed hold on %q, position %d\n", hold.Title, hold.HoldListPosition)
					return nil
				},
			},
			{
				Name:      "cancel",
				Usage:     "cancel a hold",
				ArgsUsage: "<hold-id>",
				Action: withHold(func(c *cli.Context, client *libby.Client, hold libby.Hold) error {
					if err := client.CancelHold(c.Context, hold); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Cancelled hold on %q\n", hold.Title)
					return nil
				}),
			},
			{
				Name:      "suspend",
				Usage:     "defer delivery of a hold",
				ArgsUsage: "<hold-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Value: libby.DefaultSuspendDays, Usage: "0 to 30, 60 or 90"},
				},
				Action: withHold(func(c *cli.Context, client *libby.Client, hold libby.Hold) error {
					if _, err := client.SuspendHold(c.Context, hold, c.Int("days")); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Suspended hold on %q for %d days\n", hold.Title, c.Int("days"))
					return nil
				}),
			},
			{
				Name:      "unsuspend",
				Usage:     "resume delivery of a suspended hold",
				ArgsUsage: "<hold-id>",
				Action: withHold(func(c *cli.Context, client *libby.Client, hold libby.Hold) error {
					if _, err := client.UnsuspendHold(c.Context, hold); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Resumed hold on %q\n", hold.Title)
					return nil
				}),
			},
		},
	}
}
