package session

import (
	"fmt"

	"github.com/ashureev/parley/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

func encodeState(state *domain.SessionState) ([]byte, error) {
	b, err := msgpack.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", state.ID, err)
	}
	return b, nil
}

func decodeState(b []byte) (*domain.SessionState, error) {
	var state domain.SessionState
	if err := msgpack.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if state.Flags == nil {
		state.Flags = make(map[domain.Flag]bool, len(domain.AllFlags))
	}
	return &state, nil
}
