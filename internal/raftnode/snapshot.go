package raftnode

import (
	"encoding/gob"
	"io"
)

func encodeDedupSnapshot(w io.Writer, dedup map[string]dedupEntry) error {
	return gob.NewEncoder(w).Encode(dedup)
}

func decodeDedupSnapshot(r io.Reader) (map[string]dedupEntry, error) {
	dedup := make(map[string]dedupEntry)
	if err := gob.NewDecoder(r).Decode(&dedup); err != nil {
		if err == io.EOF {
			return dedup, nil
		}
		return nil, err
	}
	return dedup, nil
}
