package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/model"
	"github.com/and161185/offer-desk/internal/service"
)

// Exit codes distinguish actionable failures for scripts.
const (
	exitErr        = 1
	exitUsage      = 2
	exitNotFound   = 3
	exitBadToken   = 4
	exitTransition = 5
	exitValidation = 6
	exitLimited    = 7
)

var errUsage = errors.New("usage")

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "send":
		return a.cmdSend(ctx, args)
	case "sign":
		return a.cmdSign(ctx, args)
	case "show":
		id, err := idFlag("show", args)
		if err != nil {
			return err
		}
		o, err := a.offers.Get(ctx, id)
		if err != nil {
			return err
		}
		printJSON(os.Stdout, o)
	case "list":
		return a.cmdList(ctx, args)
	case "update":
		return a.cmdUpdate(ctx, args)
	case "cancel":
		id, err := idFlag("cancel", args)
		if err != nil {
			return err
		}
		o, err := a.offers.Cancel(ctx, id)
		if err != nil {
			return err
		}
		printJSON(os.Stdout, o)
	case "resend":
		id, err := idFlag("resend", args)
		if err != nil {
			return err
		}
		res, err := a.offers.ResendLink(ctx, id)
		if err != nil {
			return err
		}
		printJSON(os.Stdout, sendView(res))
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

func (a *app) cmdSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	offerID := fs.String("offer", "", "resume sending an existing Draft")
	candID := fs.String("candidate", "", "candidate id")
	email := fs.String("email", "", "candidate email (alternative to -candidate)")
	title := fs.String("title", "", "job title")
	salary := fs.String("salary", "", "salary (free text)")
	start := fs.String("start", "", "start date")
	expire := fs.String("expire", "", "offer expiry")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if *offerID != "" {
		id, err := uuid.FromString(*offerID)
		if err != nil {
			return fmt.Errorf("%w: bad -offer: %v", errs.ErrValidation, err)
		}
		res, err := a.offers.Send(ctx, id)
		if err != nil {
			return err
		}
		printJSON(os.Stdout, sendView(res))
		return nil
	}

	var cid uuid.UUID
	switch {
	case *candID != "":
		id, err := uuid.FromString(*candID)
		if err != nil {
			return fmt.Errorf("%w: bad -candidate: %v", errs.ErrValidation, err)
		}
		cid = id
	case *email != "":
		c, err := a.candidates.GetByEmail(ctx, *email)
		if err != nil {
			return err
		}
		cid = c.ID
	default:
		return fmt.Errorf("%w: need -candidate or -email", errUsage)
	}

	in := model.OfferInput{JobTitle: *title, Salary: *salary}
	var err error
	if in.StartDate, err = parseTime(*start); err != nil {
		return err
	}
	if in.ExpireAt, err = parseTime(*expire); err != nil {
		return err
	}
	res, err := a.offers.CreateAndSend(ctx, cid, in)
	if err != nil {
		return err
	}
	printJSON(os.Stdout, sendView(res))
	return nil
}

func (a *app) cmdSign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	token := fs.String("token", "", "raw token from the signing link")
	name := fs.String("name", "", "signer's name")
	ip := fs.String("ip", "", "origin address of the signer")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *token == "" {
		return fmt.Errorf("%w: need -token", errUsage)
	}
	res, err := a.offers.RedeemAndSign(ctx, *token, *name, *ip)
	if err != nil {
		return err
	}
	printJSON(os.Stdout, struct {
		Offer     *model.Offer `json:"offer"`
		Documents string       `json:"documents"`
	}{res.Offer, res.Documents.String()})
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "Draft|Sent|Signed|Expired|Cancelled")
	candID := fs.String("candidate", "", "candidate id")
	limit := fs.Int("limit", 50, "max rows")
	offset := fs.Int("offset", 0, "rows to skip")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	f := model.OfferFilter{Limit: *limit, Offset: *offset}
	if *status != "" {
		st, err := model.ParseOfferStatus(*status)
		if err != nil {
			return err
		}
		f.Status = st
	}
	if *candID != "" {
		id, err := uuid.FromString(*candID)
		if err != nil {
			return fmt.Errorf("%w: bad -candidate: %v", errs.ErrValidation, err)
		}
		f.CandidateID = id
	}
	out, err := a.offers.List(ctx, f)
	if err != nil {
		return err
	}
	if out == nil {
		out = []model.Offer{}
	}
	printJSON(os.Stdout, out)
	return nil
}

func (a *app) cmdUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	idStr := fs.String("id", "", "offer id")
	file := fs.String("file", "-", "JSON patch file or - for stdin")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := uuid.FromString(*idStr)
	if err != nil {
		return fmt.Errorf("%w: bad -id: %v", errs.ErrValidation, err)
	}
	b, err := readAll(*file)
	if err != nil {
		return err
	}
	patch, err := model.DecodeOfferPatchBytes(b)
	if err != nil {
		return err
	}
	o, err := a.offers.UpdateDraft(ctx, id, patch)
	if err != nil {
		return err
	}
	printJSON(os.Stdout, o)
	return nil
}

// ---- utils ----

func idFlag(name string, args []string) (uuid.UUID, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	idStr := fs.String("id", "", "offer id")
	if err := fs.Parse(args); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	id, err := uuid.FromString(*idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad -id: %v", errs.ErrValidation, err)
	}
	return id, nil
}

// parseTime accepts a calendar date or an RFC 3339 instant. Empty means unset.
func parseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: bad time %q (want YYYY-MM-DD or RFC3339)", errs.ErrValidation, s)
}

type sendOutput struct {
	Offer        *model.Offer `json:"offer"`
	Documents    string       `json:"documents"`
	Notification string       `json:"notification"`
}

func sendView(res *service.SendResult) sendOutput {
	return sendOutput{Offer: res.Offer, Documents: res.Documents.String(), Notification: res.Notification.String()}
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// exitCode maps workflow errors onto stable process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, errs.ErrNotFound):
		return exitNotFound
	case errors.Is(err, errs.ErrInvalidOrExpiredToken):
		return exitBadToken
	case errors.Is(err, errs.ErrIllegalTransition):
		return exitTransition
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidTemplateName):
		return exitValidation
	case errors.Is(err, errs.ErrRateLimited):
		return exitLimited
	}
	return exitErr
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitCode(err))
}
