package model

import (
	"fmt"
	"strings"
)

// ValidationError reports a request rejected before any write. It crosses the
// core boundary to callers, unlike provider and constraint failures.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Invalid builds a ValidationError for the given field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

var validBuckets = map[Bucket]bool{
	BucketProfile:            true,
	BucketPreferences:        true,
	BucketConstraints:        true,
	BucketCommunicationStyle: true,
	BucketLongRunningContext: true,
	BucketGoals:              true,
	BucketProjects:           true,
	BucketNextActions:        true,
	BucketOpenLoops:          true,
}

var validStatuses = map[ItemStatus]bool{
	StatusActive:     true,
	StatusDeprecated: true,
	StatusConflicted: true,
}

var validStabilities = map[Stability]bool{
	StabilityHigh: true,
	StabilityMed:  true,
	StabilityLow:  true,
}

// ParseActor validates an actor string.
func ParseActor(s string) (Actor, error) {
	a := Actor(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActorUser, ActorAssistant, ActorSystem:
		return a, nil
	}
	return "", Invalid("actor", "%q is not one of user, assistant, system", s)
}

// ParseBucket validates and normalizes a bucket string.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToUpper(strings.TrimSpace(s)))
	if !validBuckets[b] {
		return "", Invalid("bucket", "unknown bucket %q", s)
	}
	return b, nil
}

// ParseStatus validates and normalizes a status string. Empty defaults to
// active.
func ParseStatus(s string) (ItemStatus, error) {
	if strings.TrimSpace(s) == "" {
		return StatusActive, nil
	}
	st := ItemStatus(strings.ToLower(strings.TrimSpace(s)))
	if !validStatuses[st] {
		return "", Invalid("status", "unknown status %q", s)
	}
	return st, nil
}

// ParseStability validates and normalizes a stability string. Empty defaults
// to med.
func ParseStability(s string) (Stability, error) {
	if strings.TrimSpace(s) == "" {
		return StabilityMed, nil
	}
	st := Stability(strings.ToLower(strings.TrimSpace(s)))
	if !validStabilities[st] {
		return "", Invalid("stability", "unknown stability %q", s)
	}
	return st, nil
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Buckets returns the closed set of master-memory buckets.
func Buckets() []Bucket {
	return []Bucket{
		BucketProfile,
		BucketPreferences,
		BucketConstraints,
		BucketCommunicationStyle,
		BucketLongRunningContext,
		BucketGoals,
		BucketProjects,
		BucketNextActions,
		BucketOpenLoops,
	}
}
