package backend

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/bcnelson/stack-manager/internal/domain"
)

// CloudFormation reports most request problems as a ValidationError and only
// distinguishes them by message.
const (
	codeValidation               = "ValidationError"
	codeAlreadyExists            = "AlreadyExistsException"
	codeInsufficientCapabilities = "InsufficientCapabilitiesException"
	codeLimitExceeded            = "LimitExceededException"

	codePipelineNotFound        = "PipelineNotFoundException"
	codeStageNotFound           = "StageNotFoundException"
	codeActionNotFound          = "ActionNotFoundException"
	codeInvalidApprovalToken    = "InvalidApprovalTokenException"
	codeApprovalAlreadyComplete = "ApprovalAlreadyCompletedException"
)

// Translate maps a backend error to a *domain.Error. Errors that are already
// domain errors pass through. The backend error is kept as the cause for
// logging; only validation messages are shown to callers.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return domain.NewError(domain.KindUnknownError, "", err)
	}

	msg := apiErr.ErrorMessage()
	switch apiErr.ErrorCode() {
	case codeAlreadyExists:
		return domain.NewError(domain.KindAlreadyExists, "", err)
	case codeInsufficientCapabilities:
		return domain.NewError(domain.KindInsufficientCapabilities, "", err)
	case codeLimitExceeded:
		return domain.NewError(domain.KindLimitExceeded, "", err)
	case codePipelineNotFound, codeStageNotFound, codeActionNotFound:
		return domain.NewError(domain.KindNoSuchObject, "", err)
	case codeInvalidApprovalToken, codeApprovalAlreadyComplete:
		return domain.NewError(domain.KindInvalidInput, "no pending approval for this pipeline", err)
	case codeValidation:
		return translateValidation(msg, err)
	default:
		return domain.NewError(domain.KindUnknownError, "", err)
	}
}

func translateValidation(msg string, err error) error {
	switch {
	case strings.Contains(msg, "do not exist in the template"),
		strings.Contains(msg, "usePreviousValue"):
		return domain.NewError(domain.KindUnknownParameter, "", err)
	case strings.Contains(msg, "ROLLBACK_COMPLETE"):
		return domain.NewError(domain.KindInvalidInput, domain.ErrStackInconsistent.Error(),
			errors.Join(domain.ErrStackInconsistent, err))
	case strings.Contains(msg, "No updates are to be performed"):
		return domain.NewError(domain.KindInvalidInput, domain.ErrNoChanges.Error(),
			errors.Join(domain.ErrNoChanges, err))
	case strings.Contains(msg, "does not exist"):
		return domain.NewError(domain.KindNoSuchObject, "", err)
	default:
		return domain.NewError(domain.KindInvalidInput, msg, err)
	}
}

// IsNotFound reports whether err is a backend "does not exist" failure.
func IsNotFound(err error) bool {
	return errors.Is(Translate(err), domain.ErrNoSuchObject)
}
