package domain

import (
	"errors"
	"fmt"
)

// Stage names a step of the ingestion or query pipeline.
type Stage string

const (
	StagePlanning  Stage = "planning"
	StageRetrieval Stage = "retrieval"
	StageSelection Stage = "selection"
	StageSync      Stage = "sync"
)

var (
	// ErrInvalidQuery is returned for empty or oversized user queries.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrRejectedQuery is returned when the planner flags a prompt injection.
	ErrRejectedQuery = errors.New("query rejected")
	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")
)

// StageError reports which stage of a request failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage=%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with the stage it happened in. A nil err stays nil.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// IndexError is a vector index failure.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// EmbeddingError is a transport or model failure of the embedding client.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding: %v", e.Err)
	}
	return fmt.Sprintf("embedding (%s): %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// FailureKind is the user-visible category of a failed request.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureInvalid   FailureKind = "invalid"
	FailureAssistant FailureKind = "assistant"
	FailureStorage   FailureKind = "storage"
	FailureInternal  FailureKind = "internal"
)

// Classify maps an error to the category a caller renders to the user.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrRejectedQuery) {
		return FailureInvalid
	}
	var idxErr *IndexError
	var embErr *EmbeddingError
	if errors.As(err, &idxErr) || errors.As(err, &embErr) {
		return FailureStorage
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case StagePlanning, StageSelection:
			return FailureAssistant
		case StageRetrieval:
			return FailureStorage
		}
	}
	return FailureInternal
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
