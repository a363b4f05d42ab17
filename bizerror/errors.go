package bizerror

import (
	"errors"
	"net/http"
)

var ErrUnauthenticated = errors.New("unauthenticated")
var ErrForbidden = errors.New("forbidden")
var ErrNotFound = errors.New("record not found")
var ErrInvalidPassword = errors.New("invalid password")

var ErrNegativeRuntimeHours = errors.New("runtime hours must not be negative")

var ErrStateTransitionInvalid = errors.New("state transition is invalid")
var ErrUnknownState = errors.New("unknown state")
var ErrCategoryDisciplineMismatch = errors.New("category is not valid for discipline")

var ErrRoutineIsReferenced = errors.New("routine is referenced by work orders")

var ErrFormHasNoDraftTasks = errors.New("form has no draft tasks")
var ErrFormTaskDescriptionEmpty = errors.New("form task description is empty")
var ErrFormVersionIsCurrent = errors.New("form version is current")
var ErrFormVersionIsReferenced = errors.New("form version is referenced by executions")

var ErrExecutionStateInvalid = errors.New("form execution state is invalid")
var ErrUnknownFormTask = errors.New("unknown form task")
var ErrOptionNotAllowed = errors.New("option is not in the configured option list")

type BizError interface {
	Respond() *BizErrorDetail
}

type BizErrorDetail struct {
	Status  int
	Code    string
	Message string

	Data  interface{}
	Cause error
}

type ErrBadParam struct {
	Cause error
}

func (e *ErrBadParam) Unwrap() error {
	return e.Cause
}
func (e *ErrBadParam) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "common.bad_param"
}
func (e *ErrBadParam) Respond() *BizErrorDetail {
	message := "common.bad_param"
	if e.Cause != nil {
		message = e.Cause.Error()
	}
	return &BizErrorDetail{Status: http.StatusBadRequest, Code: "common.bad_param", Message: message, Data: nil}
}

// ErrRequiredTasksIncomplete reports which required tasks are still unanswered
// when a form execution is asked to complete.
type ErrRequiredTasksIncomplete struct {
	MissingTasks interface{}
}

func (e *ErrRequiredTasksIncomplete) Error() string {
	return "required tasks are incomplete"
}
func (e *ErrRequiredTasksIncomplete) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusConflict, Code: "execution.required_tasks_incomplete",
		Message: "required tasks are incomplete", Data: e.MissingTasks}
}
