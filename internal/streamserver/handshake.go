package streamserver

import (
	"github.com/quoradb/quoradb/internal/apperrors"
	"github.com/quoradb/quoradb/internal/streamproto"
)

// handshakeRequest and handshakeResponse alias the shared wire types in
// streamproto so both this package and streamclient speak the exact same
// frame without either importing the other.
type handshakeRequest = streamproto.HandshakeRequest
type handshakeResponse = streamproto.HandshakeResponse

func signNonce(secret string, nonce [32]byte, clientID string) []byte {
	return streamproto.SignNonce(secret, nonce, clientID)
}

func encodeHandshakeRequest(req handshakeRequest) ([]byte, error) {
	return streamproto.EncodeHandshakeRequest(req)
}

func decodeHandshakeRequest(data []byte) (handshakeRequest, error) {
	req, err := streamproto.DecodeHandshakeRequest(data)
	if err != nil {
		return handshakeRequest{}, apperrors.ErrInvalidHandshake
	}
	return req, nil
}

func encodeHandshakeResponse(resp handshakeResponse) ([]byte, error) {
	return streamproto.EncodeHandshakeResponse(resp)
}

func decodeHandshakeResponse(data []byte) (handshakeResponse, error) {
	return streamproto.DecodeHandshakeResponse(data)
}

// newClientNonce generates the random challenge material for an outbound
// handshake request.
func newClientNonce() ([32]byte, error) {
	return streamproto.NewClientNonce()
}

// verifyHandshake checks req's MAC against secret and returns the ClientID
// to use for the session (generating one if req.ClientID was empty).
func verifyHandshake(secret string, req handshakeRequest) (string, error) {
	clientID, err := streamproto.VerifyHandshake(secret, req)
	if err != nil {
		return "", apperrors.ErrInvalidHandshake
	}
	return clientID, nil
}
