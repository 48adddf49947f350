package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/ingestion"
)

// codeFor maps a failure to the gRPC code clients branch on. Retryable
// kinds map to codes that clients conventionally retry.
func codeFor(err error) codes.Code {
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return s.Code()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, ingestion.ErrMalformed):
		return codes.InvalidArgument
	case errors.Is(err, ingestion.ErrOutOfOrder):
		return codes.Aborted
	}
	switch errs.CodeOf(err) {
	case errs.ErrSaleNotFound.Code, errs.ErrInsuranceNotInitialized.Code:
		return codes.NotFound
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return codes.InvalidArgument
	case errs.KindState:
		return codes.FailedPrecondition
	case errs.KindAuthorization:
		return codes.PermissionDenied
	case errs.KindAlreadyDone:
		return codes.AlreadyExists
	case errs.KindCapacity:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// toStatus converts err into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeFor(err), err.Error())
}
