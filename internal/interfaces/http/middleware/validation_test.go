package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

func TestFormatValidationErrors(t *testing.T) {
	type triggerInput struct {
		Channel string `json:"channel" binding:"required,max=8"`
		Limit   int    `json:"limit" binding:"min=1,max=100"`
	}

	SetupValidator()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.POST("/test", func(c *gin.Context) {
		var req triggerInput
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(RequestIDHeader, "req-9")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("returns field details for invalid input", func(t *testing.T) {
		w := post(`{"channel": "", "limit": 500}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "req-9", resp.Error.RequestID)
		require.Len(t, resp.Error.Details, 2)
		assert.Equal(t, "channel", resp.Error.Details[0].Field)
		assert.Equal(t, "This field is required", resp.Error.Details[0].Message)
		assert.Equal(t, "limit", resp.Error.Details[1].Field)
		assert.Equal(t, "Must be at most 100", resp.Error.Details[1].Message)
	})

	t.Run("malformed JSON is a bad request", func(t *testing.T) {
		w := post(`{"channel":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
		assert.Empty(t, resp.Error.Details)
	})

	t.Run("valid input passes", func(t *testing.T) {
		w := post(`{"channel": "web-eu", "limit": 10}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetValidationMessage(t *testing.T) {
	type sample struct {
		Required string `validate:"required"`
		MinStr   string `validate:"min=5"`
		MaxStr   string `validate:"max=2"`
		MinInt   int    `validate:"min=3"`
		UUID     string `validate:"uuid"`
		OneOf    string `validate:"oneof=full delta"`
	}

	v := validator.New()
	err := v.Struct(sample{MinStr: "ab", MaxStr: "abcd", MinInt: 1, UUID: "nope", OneOf: "x"})
	require.Error(t, err)

	expected := map[string]string{
		"Required": "This field is required",
		"MinStr":   "Must be at least 5 characters",
		"MaxStr":   "Must be at most 2 characters",
		"MinInt":   "Must be at least 3",
		"UUID":     "Invalid UUID format",
		"OneOf":    "Must be one of: full delta",
	}

	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)
	require.Len(t, validationErrs, len(expected))
	for _, e := range validationErrs {
		assert.Equal(t, expected[e.Field()], getValidationMessage(e), e.Field())
	}
}

func TestFieldTagName(t *testing.T) {
	type sample struct {
		JSON   string `json:"full_sync,omitempty"`
		URI    string `uri:"channelKey"`
		Form   string `form:"limit"`
		Hidden string `json:"-"`
		Plain  string
	}

	tagName := func(name string) string {
		field, ok := reflect.TypeOf(sample{}).FieldByName(name)
		require.True(t, ok)
		return fieldTagName(field)
	}

	assert.Equal(t, "full_sync", tagName("JSON"))
	assert.Equal(t, "channelKey", tagName("URI"))
	assert.Equal(t, "limit", tagName("Form"))
	assert.Equal(t, "", tagName("Hidden"))
	assert.Equal(t, "", tagName("Plain"))
}
