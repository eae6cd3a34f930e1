package streamproto

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

// ErrResponseMismatch names the case of a Response whose Tag does not match
// the Tag of the Request it resolves. The dispatcher panics on the
// server-side mismatch (dispatch.Dispatcher.dispatchWrite); DecodeResponse
// does not compare tags, and no function in this package returns this error.
var ErrResponseMismatch = errors.New("streamproto: response tag does not match request tag")

// ErrUnknownTag names a frame whose Tag this codec version does not know.
// DecodeRequest and DecodeResponse do not check the Tag and do not return it.
var ErrUnknownTag = errors.New("streamproto: unknown payload tag")

func init() {
	gob.Register(ExecutePayload{})
	gob.Register(ExecuteReturningPayload{})
	gob.Register(TransactionPayload{})
	gob.Register(QueryConsistentPayload{})
	gob.Register(BatchPayload{})
	gob.Register(MigratePayload{})
	gob.Register(BackupPayload{})
	gob.Register(KVPayload{})
	gob.Register(QueryPayload{})
	gob.Register(KVGetPayload{})
	gob.Register(LockAwaitPayload{})
	gob.Register(PingPayload{})

	gob.Register(ExecuteResult{})
	gob.Register(RowsResult{})
	gob.Register(TransactionResult{})
	gob.Register(BatchResult{})
	gob.Register(MigrateResult{})
	gob.Register(BackupResult{})
	gob.Register(KVResult{})
	gob.Register(KVGetResult{})
	gob.Register(LockResult{})
	gob.Register(PingResult{})
}

// Request is a single client→server wire record: a monotonic per-client
// RequestId and a tagged payload. RequestId is assigned client-side and
// echoed verbatim by the server.
type Request struct {
	RequestID uint64
	Tag       Tag
	Payload   RequestPayload
}

// Response is a single server→client wire record. Err is non-empty exactly
// when the backend failed; Payload is nil in that case.
type Response struct {
	RequestID uint64
	Tag       Tag
	Payload   ResponsePayload
	Err       string
}

// Failed reports whether this response carries a backend error.
func (r *Response) Failed() bool {
	return r.Err != ""
}

// EncodeRequest serializes a Request into a single self-describing frame.
// Transport layers (WebSocket) deliver this as one binary message with no
// further chunking, so no outer length envelope is needed.
func EncodeRequest(req *Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("streamproto: encoding request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest deserializes a single inbound request frame.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
		return nil, fmt.Errorf("streamproto: decoding request: %w", err)
	}
	return &req, nil
}

// EncodeResponse serializes a Response into a single self-describing frame.
func EncodeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, fmt.Errorf("streamproto: encoding response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse deserializes a single inbound response frame.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("streamproto: decoding response: %w", err)
	}
	return &resp, nil
}
