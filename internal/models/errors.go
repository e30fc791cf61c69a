// Package models contains data structures for the client's domain entities.
package models

import (
	"errors"
	"fmt"
)

// Error codes used across the sync services.
const (
	CodeSelfRequest       = "SELF_REQUEST"
	CodeDuplicateRequest  = "DUPLICATE_REQUEST"
	CodeAlreadyFriends    = "ALREADY_FRIENDS"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeAlreadyProcessed  = "ALREADY_PROCESSED"
	CodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	CodeCacheDegraded     = "CACHE_DEGRADED"
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewSelfRequestError() *AppError {
	return &AppError{
		Code:    CodeSelfRequest,
		Message: "Cannot send friend request to yourself",
	}
}

func NewDuplicateRequestError(senderID, receiverID string) *AppError {
	return &AppError{
		Code:    CodeDuplicateRequest,
		Message: fmt.Sprintf("A pending request from %s to %s already exists", senderID, receiverID),
	}
}

func NewAlreadyFriendsError(senderID, receiverID string) *AppError {
	return &AppError{
		Code:    CodeAlreadyFriends,
		Message: fmt.Sprintf("%s and %s are already friends", senderID, receiverID),
	}
}

func NewNotFoundError(resource string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewAlreadyProcessedError(requestID string) *AppError {
	return &AppError{
		Code:    CodeAlreadyProcessed,
		Message: fmt.Sprintf("Friend request %s is not pending", requestID),
	}
}

func NewRemoteUnavailableError(err error) *AppError {
	return &AppError{
		Code:    CodeRemoteUnavailable,
		Message: "Remote store unavailable",
		Err:     err,
	}
}

// IsCode reports whether err is an AppError carrying the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
