package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Class is the remediation bucket for an upstream API error
type Class string

const (
	ClassInvalidKey  Class = "invalid_key"
	ClassRateLimited Class = "rate_limited"
	ClassNoCredits   Class = "no_credits"
	ClassOther       Class = "other"
)

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// StatusCode extracts the HTTP status from an API error, or 0
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	if err != nil {
		if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
			code, _ := strconv.Atoi(m[1])
			return code
		}
	}
	return 0
}

// Classify buckets an upstream error. Quota exhaustion is reported as 429
// by the API, so it is checked before the rate-limit case.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}

	status := StatusCode(err)
	msg := strings.ToLower(Message(err))
	code := strings.ToLower(apiCode(err))

	switch {
	case status == http.StatusUnauthorized:
		return ClassInvalidKey
	case status == http.StatusPaymentRequired,
		code == "insufficient_quota",
		strings.Contains(msg, "insufficient_quota"),
		strings.Contains(msg, "billing") && strings.Contains(msg, "add payment"):
		return ClassNoCredits
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	default:
		return ClassOther
	}
}

// Message returns the upstream message without the client's decoration
func Message(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func apiCode(err error) string {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	switch v := apiErr.Code.(type) {
	case string:
		return v
	case nil:
		return apiErr.Type
	default:
		return fmt.Sprint(v)
	}
}
