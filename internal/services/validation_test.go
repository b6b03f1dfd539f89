package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type checkoutFixture struct {
	ProductID string `validate:"required"`
	Quantity  int    `validate:"required,gt=0,max=100"`
	Email     string `validate:"required,email"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		valid := checkoutFixture{
			ProductID: "coins-500",
			Quantity:  3,
			Email:     "player@example.com",
		}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("missing and out-of-range fields", func(t *testing.T) {
		invalid := checkoutFixture{
			Quantity: 0,
			Email:    "not-an-email",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 3)
	})

	t.Run("quantity cap", func(t *testing.T) {
		invalid := checkoutFixture{
			ProductID: "coins-500",
			Quantity:  101,
			Email:     "player@example.com",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors := err.(validator.ValidationErrors)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Quantity", validationErrors[0].Field())
		assert.Equal(t, "max", validationErrors[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("validation details are included per field", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := checkoutFixture{Quantity: -1, Email: "bad"}

		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "ProductID")
		assert.Contains(t, response.Details, "Email")
	})
}
