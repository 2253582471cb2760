// Package ipc serves a sequence.Service over a unix domain socket so that
// several processes on one machine share a single nonce allocator.
//
// Messages are JSON objects terminated by a newline. A connection carries any
// number of request/response pairs; requests on one connection are answered
// strictly in order.
package ipc

import (
	"errors"
	"fmt"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// DefaultSocketPath is reserved for the system-wide allocator. Only
// ReservedUID may listen on it.
const DefaultSocketPath = "/run/salmon/sequencer.sock"

// ReservedUID owns the system-wide allocator.
const ReservedUID = 0

// MaxMessageSize bounds a single request or response line.
const MaxMessageSize = 64 * 1024

// RequestType names the sequencer operation.
type RequestType string

const (
	CreateSequence RequestType = "CreateSequence"
	InitSequence   RequestType = "InitSequence"
	SetMaxNonce    RequestType = "SetMaxNonce"
	NextNonce      RequestType = "NextNonce"
	RevokeSequence RequestType = "RevokeSequence"
	GetSequence    RequestType = "GetSequence"
)

// Status is the outcome of a request.
type Status string

const (
	StatusOk       Status = "Ok"
	StatusError    Status = "Error"
	StatusNotFound Status = "NotFound"
)

// Request is sent by the client. ID is echoed back in the response.
type Request struct {
	ID        uint64      `json:"id"`
	DriveID   string      `json:"driveId"`
	AuthID    string      `json:"authId,omitempty"`
	Type      RequestType `json:"type"`
	NextNonce []byte      `json:"nextNonce,omitempty"`
	MaxNonce  []byte      `json:"maxNonce,omitempty"`
}

// Response is sent by the server for every request.
type Response struct {
	ID        uint64      `json:"id"`
	Type      RequestType `json:"type,omitempty"`
	DriveID   string      `json:"driveId"`
	AuthID    string      `json:"authId,omitempty"`
	Status    Status      `json:"status"`
	SeqStatus string      `json:"seqStatus,omitempty"`
	NextNonce []byte      `json:"nextNonce,omitempty"`
	MaxNonce  []byte      `json:"maxNonce,omitempty"`
	Error     string      `json:"error,omitempty"`
	// Kind carries sequence.Kind so the client can rebuild a typed error.
	Kind string `json:"kind,omitempty"`
}

// Errors returned by the client.
var (
	ErrConnect      = errors.New("cannot connect to sequence server")
	ErrUntrusted    = errors.New("sequence server endpoint is not owned by the trusted user")
	ErrReservedPath = errors.New("reserved socket path requires the system user")
	ErrProtocol     = errors.New("sequence protocol error")
)

func errorResponse(req *Request, err error) *Response {
	resp := &Response{
		ID:      req.ID,
		Type:    req.Type,
		DriveID: req.DriveID,
		AuthID:  req.AuthID,
		Status:  StatusError,
		Error:   err.Error(),
	}
	kind := sequence.KindOf(err)
	if kind == sequence.KindNotFound {
		resp.Status = StatusNotFound
	}
	if kind != sequence.KindUnknown {
		resp.Kind = kind.String()
	}
	return resp
}

func sequenceResponse(req *Request, seq *sequence.Sequence) *Response {
	return &Response{
		ID:        req.ID,
		Type:      req.Type,
		DriveID:   seq.ID,
		AuthID:    seq.AuthID,
		Status:    StatusOk,
		SeqStatus: seq.Status.String(),
		NextNonce: seq.NextNonce,
		MaxNonce:  seq.MaxNonce,
	}
}

// responseError turns a non-Ok response back into a Go error.
func responseError(resp *Response) error {
	switch resp.Status {
	case StatusOk:
		return nil
	case StatusNotFound:
		return &sequence.Error{Kind: sequence.KindNotFound, DriveID: resp.DriveID, Message: resp.Error}
	case StatusError:
		kind := sequence.ParseKind(resp.Kind)
		if kind == sequence.KindUnknown {
			return fmt.Errorf("sequence server: %s", resp.Error)
		}
		return &sequence.Error{Kind: kind, DriveID: resp.DriveID, Message: resp.Error}
	}
	return fmt.Errorf("%w: unknown status %q", ErrProtocol, resp.Status)
}
