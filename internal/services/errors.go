package services

import (
	"errors"
	"fmt"
)

var (
	ErrSerialization  = errors.New("serialization failed")
	ErrFlusherStarted = errors.New("flusher already started")
)

// PipelineError ошибка шага пайплайна комнаты. Err может объединять несколько ошибок
type PipelineError struct {
	Op     string
	RoomID string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
