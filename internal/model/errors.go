package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the engine's failure taxonomy. Callers match them with
// errors.Is; transports translate them with Code and ErrorForCode.
var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrEdgeNotFound     = errors.New("edge not found")
	ErrDuplicateID      = errors.New("duplicate node id")
	ErrInvalidParent    = errors.New("invalid parent")
	ErrCrossProjectEdge = errors.New("edge endpoints belong to different projects")
	ErrSelfLoop         = errors.New("edge would be a self-loop")
	ErrDuplicateEdge    = errors.New("duplicate edge")
	ErrWouldCreateCycle = errors.New("edge would create a cycle")
	ErrTicketHasTasks   = errors.New("ticket still owns tasks")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Wire codes for the taxonomy.
const (
	CodeNodeNotFound     = "node_not_found"
	CodeEdgeNotFound     = "edge_not_found"
	CodeDuplicateID      = "duplicate_id"
	CodeInvalidParent    = "invalid_parent"
	CodeCrossProjectEdge = "cross_project_edge"
	CodeSelfLoop         = "self_loop"
	CodeDuplicateEdge    = "duplicate_edge"
	CodeWouldCreateCycle = "would_create_cycle"
	CodeTicketHasTasks   = "ticket_has_tasks"
	CodeInvalidArgument  = "invalid_argument"
	CodeStoreUnavailable = "store_unavailable"
	CodeInternal         = "internal"
)

var codeTable = []struct {
	code string
	err  error
}{
	{CodeNodeNotFound, ErrNodeNotFound},
	{CodeEdgeNotFound, ErrEdgeNotFound},
	{CodeDuplicateID, ErrDuplicateID},
	{CodeInvalidParent, ErrInvalidParent},
	{CodeCrossProjectEdge, ErrCrossProjectEdge},
	{CodeSelfLoop, ErrSelfLoop},
	{CodeDuplicateEdge, ErrDuplicateEdge},
	{CodeWouldCreateCycle, ErrWouldCreateCycle},
	{CodeTicketHasTasks, ErrTicketHasTasks},
	{CodeInvalidArgument, ErrInvalidArgument},
	{CodeStoreUnavailable, ErrStoreUnavailable},
}

// Code returns the wire code for err, or CodeInternal when err is not part
// of the taxonomy.
func Code(err error) string {
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel error for a wire code, or nil if the
// code is unknown.
func ErrorForCode(code string) error {
	for _, c := range codeTable {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// Retryable reports whether a caller may retry the failed operation.
// Only infrastructure failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// CycleError is returned when inserting From -> To would close a cycle.
// Path lists the cycle starting and ending at From.
type CycleError struct {
	From string
	To   string
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("edge %s -> %s would create a cycle: %s", e.From, e.To, strings.Join(e.Path, " -> "))
}

// Is makes CycleError match ErrWouldCreateCycle.
func (e *CycleError) Is(target error) bool {
	return target == ErrWouldCreateCycle
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes StoreError match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// CodedError is a taxonomy error restored from the wire. It keeps the
// server's message and matches the sentinel for its code.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string { return e.Message }

func (e *CodedError) Unwrap() error { return ErrorForCode(e.Code) }
