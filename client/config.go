package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("client: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}
}

// Config holds the connection and credential settings of a [Client].
// It is copied by [New] and never modified afterwards.
//
// A zero timeout disables the corresponding limit. LeaseTimeout bounds how
// long an exchange waits for a free connection slot; zero means
// ConnectTimeout is used. StallTimeout bounds how long a delivered
// response waits for its body to be read at all; zero means
// stream.DefaultStallTimeout and a negative value disables it.
type Config struct {
	ConnectTimeout   time.Duration `validate:"gte=0s"`
	SocketTimeout    time.Duration `validate:"gte=0s"`
	LeaseTimeout     time.Duration `validate:"gte=0s"`
	StallTimeout     time.Duration
	MaxConnsPerRoute int           `validate:"gt=0"`
	MaxConnsTotal    int           `validate:"gt=0,gtefield=MaxConnsPerRoute"`

	// Username and Password are presented to every host that challenges
	// or is configured for preemptive authentication.
	Username string `validate:"required_with=Password"`
	Password string
}

// FieldError represents a single validation error for a specific field.
type FieldError struct {
	Field string
	Err   string
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface, returning a human-readable
// summary of all field errors.
func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Err
	}
	return strings.Join(parts, "; ")
}

func validateConfig(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrors validator.ValidationErrors
	if !errors.As(err, &verrors) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	fields := make(FieldErrors, 0, len(verrors))
	for _, verror := range verrors {
		fields = append(fields, FieldError{
			Field: verror.Field(),
			Err:   verror.Translate(translator),
		})
	}

	return fmt.Errorf("%w: %w", ErrConfiguration, fields)
}
