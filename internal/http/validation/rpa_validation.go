package validation

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"

	"rpa-agent/internal/model"
	"rpa-agent/internal/registry"
)

// JobLookup answers whether a job name is already registered.
type JobLookup interface {
	Info(name string) (model.RunMetadata, error)
}

// namePattern limits names to the character class the per-name routes match,
// so every accepted job stays addressable through the API. Spaces are allowed
// because normalization turns them into underscores before storage.
var namePattern = regexp.MustCompile(`^[\w][\w .-]*$`)

// RegisterRPAValidation wires the custom request validations: rpaName checks
// the name survives normalization and stays filesystem-safe, uniqueName checks
// it is not already registered.
func RegisterRPAValidation(validate *validator.Validate, lookup JobLookup) error {
	err := validate.RegisterValidation("rpaName", func(fl validator.FieldLevel) bool {
		name := registry.NormalizeName(fl.Field().String())
		return name != "" && namePattern.MatchString(name)
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("uniqueName", func(fl validator.FieldLevel) bool {
		name := registry.NormalizeName(fl.Field().String())
		_, err := lookup.Info(name)
		return errors.Is(err, model.ErrorNotFound)
	})
	if err != nil {
		return err
	}
	return nil
}
