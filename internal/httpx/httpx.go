// Package httpx provides helper functions for decoding API Gateway requests
// and creating JSON responses. Every response carries permissive CORS headers.
package httpx

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kylejryan/timesheet-claim-chains/internal/apperr"

	"github.com/aws/aws-lambda-go/events"
)

// ErrorBody is the body of every failure response.
type ErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`

	// Set when a resubmission wrote its new claim but failed afterwards.
	Outcome    string `json:"outcome,omitempty"`
	NewClaimID string `json:"newClaimId,omitempty"`
}

// ErrInvalidBody is returned by DecodeBody when the body is not a JSON object.
var ErrInvalidBody = errors.New("invalid request body")

func headers() map[string]string {
	return map[string]string{
		"Content-Type":                     "application/json",
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Credentials": "true",
	}
}

// JSON creates a JSON HTTP response with the given status code and value.
func JSON(status int, v any) (events.APIGatewayProxyResponse, error) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(ErrorBody{Message: "Error encoding response", Error: err.Error()})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers(),
		Body:       string(b),
	}, nil
}

// Error creates a JSON HTTP error response with the given status code and message.
func Error(status int, msg string) (events.APIGatewayProxyResponse, error) {
	return JSON(status, ErrorBody{Message: msg})
}

// FromError converts err into a failure response. Errors that are not an
// [apperr.Error] become a 500 with fallback as the message.
func FromError(err error, fallback string) (events.APIGatewayProxyResponse, error) {
	e := apperr.FromError(err, fallback)
	return JSON(e.Status, ErrorBody{Message: e.Message, Error: e.Cause()})
}

// DecodeBody unmarshals the request body into v, decoding base64 bodies first.
func DecodeBody(req events.APIGatewayProxyRequest, v any) error {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return ErrInvalidBody
		}
		body = b
	}

	if len(body) == 0 {
		return ErrInvalidBody
	}
	if err := json.Unmarshal(body, v); err != nil {
		return ErrInvalidBody
	}
	return nil
}
