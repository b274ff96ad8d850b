package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate validates a struct using validation tags.
func (v *Validator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return v.formatValidationError(err)
	}

	return nil
}

func (v *Validator) formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	messages := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		messages = append(messages, fmt.Sprintf(
			"field '%s' failed validation: %s (value: '%v')",
			e.Namespace(),
			e.Tag(),
			e.Value(),
		))
	}

	return fmt.Errorf("validation failed:\n  %s", strings.Join(messages, "\n  "))
}

// ValidateConfig validates the tags and then the settings of the selected transport.
func ValidateConfig(cfg *Config) error {
	if err := NewValidator().Validate(cfg); err != nil {
		return err
	}

	switch cfg.Transport.Kind {
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for the nats transport")
		}
	case "rabbitmq":
		if cfg.RabbitMQ.URL == "" {
			return errors.New("rabbitmq.url is required for the rabbitmq transport")
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka transport")
		}
	case "sqs":
		if cfg.SQS.Region == "" && cfg.SQS.Endpoint == "" {
			return errors.New("sqs.region or sqs.endpoint is required for the sqs transport")
		}
	}

	return nil
}
