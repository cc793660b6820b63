package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError
	ErrNotFound = errors.New("not found")

	// ErrStorage matches every *StorageError
	ErrStorage = errors.New("storage failure")

	// ErrAlreadyMember is returned when adding a user that is already in the team
	ErrAlreadyMember = errors.New("user is already a team member")

	// ErrMembershipNotFound is returned when a membership row to change does not exist
	ErrMembershipNotFound = errors.New("team membership not found")

	// ErrGrantNotFound is returned when a project grant to change does not exist
	ErrGrantNotFound = errors.New("project team grant not found")

	// ErrInvalidRole is returned when writing an unknown role
	ErrInvalidRole = errors.New("invalid role")
)

// NotFoundError reports that the resource a permission check targets does not exist.
// It is never cached.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// Is makes errors.Is(err, ErrNotFound) work
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps a failure of the persistence collaborator. Callers must
// treat it as a deny.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) work
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func projectNotFound(id string) error {
	return &NotFoundError{Resource: "Project", ID: id}
}

func teamNotFound(id string) error {
	return &NotFoundError{Resource: "Team", ID: id}
}

func storageError(op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
