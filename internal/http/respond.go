package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// APIError is the error body of every failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   APIError{Code: code, Message: message, Details: details},
	})
}

func respondUnauthorized(c *gin.Context, message string) {
	respondError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

func respondInternal(c *gin.Context, err error) {
	_ = c.Error(err)
	respondError(c, http.StatusInternalServerError, "internal_error", "Something went wrong", nil)
}

// bindJSON decodes the request body into out and answers 400 on failure.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body", bindDetails(err))
		return false
	}
	return true
}

func bindDetails(err error) any {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	fields := make([]fieldError, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return gin.H{"fields": fields}
}
