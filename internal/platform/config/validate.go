package config

import (
	stderrs "errors"
	"strings"
	"sync"

	perr "ghstrata/internal/platform/errors"

	"github.com/go-playground/validator/v10"
)

var (
	vOnce sync.Once
	vInst *validator.Validate
)

func instance() *validator.Validate {
	vOnce.Do(func() {
		vInst = validator.New(validator.WithRequiredStructEnabled())
		// quantile points live strictly inside (0,1)
		_ = vInst.RegisterValidation("quantile", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return f > 0 && f < 1
		})
	})
	return vInst
}

// Validate checks struct tags on an options value and returns a Validation error
// naming the first failing field
func Validate(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !stderrs.As(err, &ves) || len(ves) == 0 {
		return perr.Wrap(err, perr.ErrorCodeValidation, "invalid options")
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	out := perr.Newf(perr.ErrorCodeValidation, "invalid options: %s", strings.Join(msgs, "; "))
	return perr.WithField(out, ves[0].Field())
}
