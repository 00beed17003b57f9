package httpapi

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
	"github.com/i474232898/weather-currency-cache/internal/coordinator"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, coord *coordinator.Coordinator) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather", func(c *fiber.Ctx) error {
		q := weatherQuery{City: c.Query("city")}
		if err := validate.Struct(q); err != nil {
			return err
		}

		snapshot, err := coord.FetchWeather(c.UserContext(), q.City)
		if err != nil {
			return err
		}
		return c.JSON(snapshot)
	})

	v1.Get("/rate", func(c *fiber.Ctx) error {
		q := rateQuery{From: c.Query("from"), To: c.Query("to")}
		if err := validate.Struct(q); err != nil {
			return err
		}

		rate, err := coord.FetchConversionRate(c.UserContext(), q.From, q.To)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"from_currency": strings.ToUpper(q.From),
			"to_currency":   strings.ToUpper(q.To),
			"rate":          rate,
		})
	})

	v1.Post("/convert", func(c *fiber.Ctx) error {
		var req convertRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.NewInvalidInput("request body must be a JSON object", err)
		}
		if err := validate.Struct(req); err != nil {
			return err
		}

		converted, rate, err := coord.ConvertWithRate(c.UserContext(), req.From, req.To, req.Amount)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"from_currency":    strings.ToUpper(req.From),
			"to_currency":      strings.ToUpper(req.To),
			"amount":           req.Amount,
			"rate":             rate,
			"converted_amount": converted,
		})
	})
}

type weatherQuery struct {
	City string `validate:"required"`
}

type rateQuery struct {
	From string `validate:"required,len=3,alpha"`
	To   string `validate:"required,len=3,alpha"`
}

type convertRequest struct {
	From   string  `json:"from_currency" validate:"required,len=3,alpha"`
	To     string  `json:"to_currency" validate:"required,len=3,alpha"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

type fieldError struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

// ErrorHandler maps domain failures to status codes and renders a uniform
// JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, fieldError{Field: fe.Field(), Rule: fe.Tag(), Message: fe.Error()})
		}
		return validationFailed(c, out)
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindInvalidInput:
			return validationFailed(c, []fieldError{{Message: appErr.Message}})
		case apperr.KindUnknownCurrency:
			return errorJSON(c, fiber.StatusBadRequest, appErr.Message, string(appErr.Kind))
		case apperr.KindMalformed:
			return errorJSON(c, fiber.StatusNotFound, "data unavailable for this request", string(appErr.Kind))
		case apperr.KindUpstream:
			return errorJSON(c, fiber.StatusBadGateway, "upstream provider unavailable", string(appErr.Kind))
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return errorJSON(c, fe.Code, fe.Message, "")
	}

	return errorJSON(c, fiber.StatusInternalServerError, "internal error", "")
}

func validationFailed(c *fiber.Ctx, errs []fieldError) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"detail": "Validation error",
		"errors": errs,
		"code":   "validation_failed",
	})
}

func errorJSON(c *fiber.Ctx, status int, message, code string) error {
	body := fiber.Map{
		"error":   true,
		"message": message,
	}
	if code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(body)
}
