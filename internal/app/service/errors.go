package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
	"github.com/sifan077/SlotBoard/internal/app/policy"
	"github.com/sifan077/SlotBoard/internal/app/ratelimit"
	"github.com/sifan077/SlotBoard/internal/app/repository"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrRateLimited  = errors.New("rate limited")
	ErrSlotFull     = errors.New("no free slot in category")
	ErrNotEligible  = errors.New("listing is not eligible for this transition")
	ErrNotFound     = errors.New("listing not found")
	ErrNoneEligible = errors.New("no pending listing eligible for promotion")
	ErrForbidden    = errors.New("listing belongs to another owner")

	// ErrUnknownCategory is matched by validation errors for categories the
	// policy does not define.
	ErrUnknownCategory = policy.ErrUnknownCategory
)

// ValidationError carries per-field messages for a rejected input.
type ValidationError struct {
	Fields map[string]string
	cause  error
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func unknownCategory(category model.Category) *ValidationError {
	return &ValidationError{
		Fields: map[string]string{"category": fmt.Sprintf("unknown category %q", category)},
		cause:  ErrUnknownCategory,
	}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrValidation, e.cause}
	}
	return []error{ErrValidation}
}

// RateLimitedError reports a denied quota and when the caller may retry.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds is RetryAfter rounded up to whole seconds.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return ratelimit.CeilSeconds(e.RetryAfter)
}

// translateRepoErr maps store sentinels onto the service taxonomy.
func translateRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrListingNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrStateConflict):
		return fmt.Errorf("%w: %w", ErrNotEligible, err)
	case errors.Is(err, repository.ErrCapacityReached):
		return fmt.Errorf("%w: %w", ErrSlotFull, err)
	}
	return err
}
