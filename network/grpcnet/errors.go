package grpcnet

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/routeplane/model"
)

// toStatus maps a structured error onto a gRPC status. The message keeps the
// "CODE: text" form of model.Error so clients can restore the code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	code := model.CodeOf(err)
	if code == "" {
		return status.Errorf(codes.Internal, "%s: %v", model.CodeInternal, err)
	}
	var grpcCode codes.Code
	switch {
	case code == model.CodeNoCode || code == model.CodeUnknownSelector:
		grpcCode = codes.NotFound
	default:
		switch model.KindOf(code) {
		case model.KindValidation:
			grpcCode = codes.InvalidArgument
		case model.KindState:
			grpcCode = codes.FailedPrecondition
		case model.KindIntegrity:
			grpcCode = codes.DataLoss
		case model.KindPermission:
			grpcCode = codes.PermissionDenied
		default:
			grpcCode = codes.Internal
		}
	}
	return status.Error(grpcCode, err.Error())
}

// fromRPC restores a structured error from a gRPC status.
func fromRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	msg := st.Message()
	if prefix, rest, found := strings.Cut(msg, ": "); found && model.IsKnownCode(model.Code(prefix)) {
		return model.Errorf(model.Code(prefix), "%s", rest)
	}
	if model.IsKnownCode(model.Code(msg)) {
		return model.Errorf(model.Code(msg), "")
	}
	return model.Wrap(model.CodeInternal, err, "rpc failed")
}
