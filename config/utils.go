package config

import (
	"errors"

	"github.com/go-playground/validator/v10"

	log "github.com/sirupsen/logrus"
)

type Validatable interface {
	Validate(validate *validator.Validate) error
}

func validateStruct(validate *validator.Validate, value any) error {
	err := validate.Struct(value)
	if err != nil {
		var invalidValidationError *validator.InvalidValidationError
		if errors.As(err, &invalidValidationError) {
			log.WithError(err).Error("validator can not handle the given value")
			return err
		}
	}
	return err
}

type Processable interface {
	Process() error
}
