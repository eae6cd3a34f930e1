package streamproto

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidHandshake is returned when a handshake's MAC does not verify
// against the shared secret.
var ErrInvalidHandshake = errors.New("streamproto: invalid handshake")

// HandshakeRequest is the first frame a client sends on a new connection:
// a mutually-keyed challenge derived from the shared secret (§6.2). An
// empty ClientID requests a new identity; a non-empty one resumes an
// existing ClientBuffer across a reconnect.
type HandshakeRequest struct {
	ClientID string
	Nonce    [32]byte
	MAC      []byte
}

// HandshakeResponse is the server's reply. OK=false means the connection
// must be torn down with Close(1000, "Invalid Handshake") without ever
// touching the ClientBuffer registry.
type HandshakeResponse struct {
	OK       bool
	ClientID string
	Reason   string
}

// NewClientNonce generates the random challenge material for an outbound
// handshake request.
func NewClientNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("streamproto: generate nonce: %w", err)
	}
	return nonce, nil
}

// SignNonce computes the HMAC-SHA256 challenge response over nonce and
// clientID, keyed by the shared secret.
func SignNonce(secret string, nonce [32]byte, clientID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(nonce[:])
	mac.Write([]byte(clientID))
	return mac.Sum(nil)
}

// VerifyHandshake checks req's MAC against secret and returns the
// ClientID to use for the session (generating one if req.ClientID was
// empty).
func VerifyHandshake(secret string, req HandshakeRequest) (string, error) {
	expected := SignNonce(secret, req.Nonce, req.ClientID)
	if !hmac.Equal(expected, req.MAC) {
		return "", ErrInvalidHandshake
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return clientID, nil
}

// EncodeHandshakeRequest serializes req into a single self-describing frame.
func EncodeHandshakeRequest(req HandshakeRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("streamproto: encode handshake request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHandshakeRequest deserializes a handshake request frame.
func DecodeHandshakeRequest(data []byte) (HandshakeRequest, error) {
	var req HandshakeRequest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
		return HandshakeRequest{}, fmt.Errorf("streamproto: decode handshake request: %w", err)
	}
	return req, nil
}

// EncodeHandshakeResponse serializes resp into a single self-describing frame.
func EncodeHandshakeResponse(resp HandshakeResponse) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, fmt.Errorf("streamproto: encode handshake response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHandshakeResponse deserializes a handshake response frame.
func DecodeHandshakeResponse(data []byte) (HandshakeResponse, error) {
	var resp HandshakeResponse
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return HandshakeResponse{}, fmt.Errorf("streamproto: decode handshake response: %w", err)
	}
	return resp, nil
}
