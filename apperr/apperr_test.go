package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{InvalidRequest("bad"), http.StatusBadRequest},
		{InvalidGrant("used"), http.StatusBadRequest},
		{DuplicatePost("https://blog.example.net/a"), http.StatusBadRequest},
		{Unauthorized("who"), http.StatusUnauthorized},
		{InsufficientScope("create"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{BackendFault("github", errors.New("502")), http.StatusInternalServerError},
		{Configuration("broken"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", NotFound("gone")), http.StatusNotFound},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("add post: %w", BackendFault("GitHub API request failed", cause))

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable with errors.Is")
	}
	if !IsKind(err, KindBackendFault) {
		t.Error("expected backend fault kind")
	}
	if IsNotFound(err) {
		t.Error("backend fault is not a not found error")
	}
	want := "add post: backend_fault: GitHub API request failed: connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDescriptions(t *testing.T) {
	if e := InsufficientScope("media"); e.Description != "Access token not valid for action 'media'" {
		t.Errorf("unexpected description %q", e.Description)
	}
	if e := DuplicatePost("https://blog.example.net/a"); e.Code != "invalid_request" || e.Kind != KindDuplicate {
		t.Errorf("unexpected duplicate error %+v", e)
	}
	if e := Configurationf("blog %s: uri is required", "b"); !IsConfiguration(e) || e.Description != "blog b: uri is required" {
		t.Errorf("unexpected configuration error %+v", e)
	}
}
