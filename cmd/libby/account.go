package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/libby/pkg/errcodes"
	"github.com/shishobooks/libby/pkg/libby"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func (e *env) loginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "link this tool to a Libby account with a setup code",
		ArgsUsage: "<8 digit code>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<8 digit code>"); err != nil {
				return err
			}
			code := c.Args().First()
			if !libby.IsValidSyncCode(code) {
				return errcodes.InvalidArgument("setup codes are 8 digits: " + code)
			}

			client, err := e.lendingClient(e.cfg.IdentityToken)
			if err != nil {
				return err
			}
			if client.Identity() == "" {
				if _, err := client.GetChip(c.Context); err != nil {
					return err
				}
			}
			if err := client.CloneByCode(c.Context, code); err != nil {
				return err
			}
			state, err := client.Sync(c.Context)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "Linked %d card(s).\n", len(state.Cards))
			fmt.Fprintf(c.App.Writer, "identity_token: %s\n", client.Identity())
			return nil
		},
	}
}

func (e *env) cardsCommand() *cli.Command {
	return &cli.Command{
		Name:  "cards",
		Usage: "list the library cards on the account",
		Action: func(c *cli.Context) error {
			client, err := e.lending()
			if err != nil {
				return err
			}
			cards, err := client.Cards(c.Context)
			if err != nil {
				return err
			}
			rows := [][]interface{}{}
			for _, card := range cards {
				rows = append(rows, []interface{}{
					card.CardID,
					card.CardName,
					card.Library.Name,
					card.AdvantageKey,
					fmt.Sprintf("%d/%d", card.Counts.Loan, card.Limits.Loan),
					fmt.Sprintf("%d/%d", card.Counts.Hold, card.Limits.Hold),
				})
			}
			return table(c.App.Writer, "CARD\tNAME\tLIBRARY\tKEY\tLOANS\tHOLDS", rows)
		},
	}
}

func (e *env) cardCommand() *cli.Command {
	return &cli.Command{
		Name:  "card",
		Usage: "manage a library card",
		Subcommands: []*cli.Command{
			{
				Name:      "verify",
				Usage:     "sign in to a library's card system; the password is read from the terminal",
				ArgsUsage: "<website-id> <ils> <username>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 3, "<website-id> <ils> <username>"); err != nil {
						return err
					}
					client, err := e.lending()
					if err != nil {
						return err
					}
					password, err := readPassword(c)
					if err != nil {
						return err
					}
					res, err := client.VerifyCard(c.Context, libby.ID(c.Args().Get(0)), c.Args().Get(1), c.Args().Get(2), password)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Verified: %v\n", res["result"])
					return nil
				},
			},
			{
				Name:      "rename",
				Usage:     "change the display name of a card",
				ArgsUsage: "<card-id> <name>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2, "<card-id> <name>"); err != nil {
						return err
					}
					client, err := e.lending()
					if err != nil {
						return err
					}
					name := strings.Join(c.Args().Slice()[1:], " ")
					if _, err := client.UpdateCardName(c.Context, libby.ID(c.Args().First()), name); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Renamed card %s to %q\n", c.Args().First(), name)
					return nil
				},
			},
		},
	}
}

func readPassword(c *cli.Context) (string, error) {
	fmt.Fprint(c.App.ErrWriter, "Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(c.App.ErrWriter)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

func (e *env) loansCommand() *cli.Command {
	return &cli.Command{
		Name:  "loans",
		Usage: "list current loans",
		Action: func(c *cli.Context) error {
			client, err := e.lending()
			if err != nil {
				return err
			}
			loans, err := client.Loans(c.Context)
			if err != nil {
				return err
			}
			now := time.Now()
			rows := [][]interface{}{}
			for _, loan := range loans {
				format := "-"
				if desc, err := libby.LoanFormat(loan, e.cfg.PreferOpenFormats, false); err == nil {
					format = desc.String()
				}
				expires := "-"
				if t, err := loan.Expires(); err == nil && !t.IsZero() {
					expires = t.Local().Format("2006-01-02")
				}
				rows = append(rows, []interface{}{
					loan.ID,
					loan.CardID,
					loan.Type.ID,
					libby.MediaTitle(loan, true),
					format,
					expires,
					libby.IsRenewable(loan, now),
				})
			}
			return table(c.App.Writer, "ID\tCARD\tTYPE\tTITLE\tFORMAT\tEXPIRES\tRENEWABLE", rows)
		},
	}
}

func (e *env) holdsCommand() *cli.Command {
	return &cli.Command{
		Name:  "holds",
		Usage: "list current holds",
		Action: func(c *cli.Context) error {
			client, err := e.lending()
			if err != nil {
				return err
			}
			holds, err := client.Holds(c.Context)
			if err != nil {
				return err
			}
			rows := [][]interface{}{}
			for _, hold := range holds {
				rows = append(rows, []interface{}{
					hold.ID,
					hold.CardID,
					hold.Type.ID,
					hold.Title,
					hold.IsAvailable,
					hold.IsSuspended(),
				})
			}
			return table(c.App.Writer, "ID\tCARD\tTYPE\tTITLE\tAVAILABLE\tSUSPENDED", rows)
		},
	}
}
