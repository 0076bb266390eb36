package engine

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"mapring/config"
)

const metadataKey = "config:server:metadata"

// SaveServerMetadata persists the node identity and member view so a
// restarted node keeps its id and ring position.
func (e *Engine) SaveServerMetadata(s *config.Server) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.Persisted()); err != nil {
		return err
	}

	return e.Set(metadataKey, buf.Bytes())
}

// LoadServerMetadata returns the saved server, or ErrNotFound.
func (e *Engine) LoadServerMetadata() (*config.Server, error) {
	data, err := e.Get(metadataKey)
	if err != nil {
		return nil, err
	}
	var s config.Server
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode server metadata: %w", err)
	}
	if s.ServerID == "" {
		return nil, errors.New("saved server metadata has no server id")
	}
	if s.Nodes == nil {
		s.Nodes = map[string]*config.Node{}
	}
	return &s, nil
}
