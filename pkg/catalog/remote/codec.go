package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/catalogops/pkg/catalog"
)

// Wire payloads travel as structpb.Struct using the records' JSON field names

type listResponse struct {
	Items []catalog.Record `json:"items"`
}

type setActiveRequest struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

type sortOrderRequest struct {
	Deltas []catalog.Delta `json:"deltas"`
}

type wireFailure struct {
	ID      string `json:"id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sortOrderResponse struct {
	Failed []wireFailure `json:"failed,omitempty"`
}

type statsResponse struct {
	UptimeSeconds int64            `json:"uptimeSeconds"`
	Operations    map[string]int64 `json:"operations"`
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

func decode(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// toStatus maps engine errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var perr *catalog.PersistenceError
	switch {
	case errors.Is(err, catalog.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &perr):
		return status.Error(codeFor(perr.Code), perr.Message)
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func codeFor(httpCode int) codes.Code {
	switch httpCode {
	case catalog.CodeBadRequest:
		return codes.InvalidArgument
	case catalog.CodeNotFound:
		return codes.NotFound
	case catalog.CodeConflict:
		return codes.Aborted
	case catalog.CodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func httpCodeFor(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return catalog.CodeBadRequest
	case codes.NotFound:
		return catalog.CodeNotFound
	case codes.Aborted, codes.AlreadyExists, codes.FailedPrecondition:
		return catalog.CodeConflict
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return catalog.CodeUnavailable
	default:
		return catalog.CodeInternal
	}
}

// fromStatus turns an RPC error about one record into a PersistenceError
func fromStatus(id string, err error) error {
	if err == nil {
		return nil
	}
	st := status.Convert(err)
	return &catalog.PersistenceError{ID: id, Code: httpCodeFor(st.Code()), Message: st.Message()}
}

func toWireFailures(failed []catalog.Failure) []wireFailure {
	out := make([]wireFailure, len(failed))
	for i, f := range failed {
		wf := wireFailure{ID: f.ID, Code: catalog.CodeInternal}
		if f.Err != nil {
			wf.Message = f.Err.Error()
		}
		var perr *catalog.PersistenceError
		if errors.As(f.Err, &perr) {
			wf.Code = perr.Code
			wf.Message = perr.Message
		}
		out[i] = wf
	}
	return out
}

func fromWireFailures(failed []wireFailure) []catalog.Failure {
	out := make([]catalog.Failure, len(failed))
	for i, f := range failed {
		out[i] = catalog.Failure{
			ID:  f.ID,
			Err: &catalog.PersistenceError{ID: f.ID, Code: f.Code, Message: f.Message},
		}
	}
	return out
}
