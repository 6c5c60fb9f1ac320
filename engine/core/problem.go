package core

import (
	"errors"
	"net/http"
)

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// Problem codes surfaced by the HTTP layer.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// NormalizeProblem ensures the provided problem includes canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

// ProblemFromError maps the error taxonomy to HTTP statuses.
func ProblemFromError(err error) *Problem {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, ErrInvalidInput):
		status, code = http.StatusUnprocessableEntity, CodeInvalidInput
	case errors.Is(err, ErrServiceUnavailable):
		status, code = http.StatusServiceUnavailable, CodeServiceUnavailable
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, CodeNotFound
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Problem{Status: status, Detail: detail, Extras: map[string]any{"code": code}}
}

// BuildProblemBody assembles the serialized representation of the problem.
func BuildProblemBody(problem *Problem) map[string]any {
	body := map[string]any{
		"status": problem.Status,
		"error":  problem.Title,
	}
	if problem.Detail != "" {
		body["details"] = problem.Detail
	}
	if code, ok := problem.Extras["code"]; ok {
		body["code"] = code
	}
	if problem.Type != "" {
		body["type"] = problem.Type
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	if len(problem.Extras) == 0 {
		return body
	}
	filtered := make(map[string]any, len(problem.Extras))
	for key, value := range problem.Extras {
		if !isReservedProblemKey(key) {
			filtered[key] = value
		}
	}
	if len(filtered) == 0 {
		return body
	}
	return CopyMaps(body, filtered)
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "status", "error", "details", "code", "type", "instance":
		return true
	default:
		return false
	}
}
