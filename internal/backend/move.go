package backend

import (
	"context"
	"fmt"
)

// MoveStep names one step of the non-atomic flat-storage move.
type MoveStep string

const (
	StepRead   MoveStep = "read"
	StepWrite  MoveStep = "write"
	StepVerify MoveStep = "verify"
	StepDelete MoveStep = "delete"
)

// MoveError reports the step a move stopped at. Steps before Step have
// already taken effect and are not rolled back: a failed delete leaves a
// duplicate at NewPath, a failed write or verify leaves only the original.
type MoveError struct {
	Step    MoveStep
	OldPath string
	NewPath string
	Err     error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %s step: %v", e.OldPath, e.NewPath, e.Step, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// MoveFile relocates a file on a storage with no native move: read the old
// content, write it to newPath, then delete the old ref. When the storage
// implements Verifier the written path is confirmed before the delete so
// that a silently dropped write never loses the original.
func MoveFile(ctx context.Context, s FlatStorage, fileRef, oldPath, newPath string) error {
	data, err := s.ReadFile(ctx, fileRef)
	if err != nil {
		return &MoveError{Step: StepRead, OldPath: oldPath, NewPath: newPath, Err: err}
	}
	if err := s.WriteFile(ctx, newPath, data); err != nil {
		return &MoveError{Step: StepWrite, OldPath: oldPath, NewPath: newPath, Err: err}
	}
	if v, ok := s.(Verifier); ok {
		exists, err := v.Exists(ctx, newPath)
		if err == nil && !exists {
			err = ErrNotFound
		}
		if err != nil {
			return &MoveError{Step: StepVerify, OldPath: oldPath, NewPath: newPath, Err: err}
		}
	}
	if err := s.DeleteFile(ctx, fileRef); err != nil {
		return &MoveError{Step: StepDelete, OldPath: oldPath, NewPath: newPath, Err: err}
	}
	return nil
}
