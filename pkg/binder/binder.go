package binder

import (
	"bytes"
	"context"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/libby/pkg/errcodes"
)

// Binder decodes API payloads into structs, uses mold to clean them up,
// applies defaults and runs validator over the result.
type Binder struct {
	conform  *mold.Transformer
	validate *validator.Validate
}

// New initializes a new Binder instance with the appropriate validation
// functions registered.
func New() (*Binder, error) {
	conform := modifiers.New()
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation(synccode, syncCodeValidator); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := validate.RegisterValidation(suspenddays, suspendDaysValidator); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := validate.RegisterValidation(date, dateValidator); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := validate.RegisterValidation(singlelock, singleLockValidator); err != nil {
		return nil, errors.WithStack(err)
	}

	return &Binder{conform, validate}, nil
}

// Must is New for package level binders.
func Must() *Binder {
	b, err := New()
	if err != nil {
		panic(err)
	}
	return b
}

// Decode unmarshals a response body into i and then normalizes and validates
// it. Unknown fields are allowed since the services add fields freely. A
// blank body decodes as an empty object.
func (b *Binder) Decode(ctx context.Context, body []byte, i interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, i); err != nil {
		// return better error message on type errors
		if terr, ok := err.(*json.UnmarshalTypeError); ok {
			return errcodes.MalformedResponse(formatUnmarshalTypeError(terr), string(body))
		}
		return errcodes.MalformedResponse(err.Error(), string(body))
	}
	if err := b.normalize(ctx, i); err != nil {
		var e *errcodes.Error
		if errors.As(err, &e) {
			return errcodes.MalformedResponse(e.Message, string(body))
		}
		return err
	}
	return nil
}

// Validate normalizes and validates caller supplied arguments. Failures are
// returned as invalid_argument errors so they never reach the network.
func (b *Binder) Validate(ctx context.Context, i interface{}) error {
	return b.normalize(ctx, i)
}

func (b *Binder) normalize(ctx context.Context, i interface{}) error {
	if err := b.conform.Struct(ctx, i); err != nil {
		return errors.WithStack(err)
	}

	if err := defaults.Set(i); err != nil {
		return errors.WithStack(err)
	}

	if err := b.validate.Struct(i); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) || len(errs) == 0 {
			return errors.WithStack(err)
		}
		msg := formatValidationError(errs[0])
		return errcodes.InvalidArgument(msg)
	}
	return nil
}
