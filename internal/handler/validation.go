package handler

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// bindAndValidate parses the JSON body into dest and runs its validate tags.
// An empty body is allowed when allowEmpty is set.
func bindAndValidate(c *fiber.Ctx, dest any, allowEmpty bool) error {
	if len(c.Body()) > 0 || !allowEmpty {
		if err := c.BodyParser(dest); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := getValidator().Struct(dest); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) string {
	ve, ok := err.(validator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			if fe.Param() != "" {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, fe.Tag(), fe.Param()))
			} else {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, fe.Tag()))
			}
		}
	}
	return strings.Join(messages, "; ")
}
