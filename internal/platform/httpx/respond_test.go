package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("store: %w", ErrNotFound): http.StatusNotFound,
		ErrConflict:                          http.StatusConflict,
		ErrForbidden:                         http.StatusForbidden,
		ErrUnauthorized:                      http.StatusUnauthorized,
		fmt.Errorf("boom"):                   http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, err)
		require.Equal(t, status, rec.Code, err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidationProblemListsFields(t *testing.T) {
	type form struct {
		Email string `validate:"required,email"`
	}
	err := validator.New().Struct(form{Email: "nope"})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationProblem(rec, FieldErrors(err))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "email", body.Errors["Email"])
}
