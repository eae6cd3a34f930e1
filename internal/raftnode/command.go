package raftnode

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/quoradb/quoradb/internal/streamproto"
)

// command is the unit replicated through Raft: the originating client id
// alongside its request, so the FSM can apply the (ClientId, RequestId)
// dedup rule on every replica, leader and follower alike.
type command struct {
	ClientID string
	Request  *streamproto.Request
}

func encodeCommand(cmd command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("raftnode: encode command: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (command, error) {
	var cmd command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd); err != nil {
		return command{}, fmt.Errorf("raftnode: decode command: %w", err)
	}
	return cmd, nil
}
