package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

const snapshotVersion = 1

type envelope struct {
	Version  int       `json:"version"`
	SavedAt  time.Time `json:"saved_at"`
	Snapshot Snapshot  `json:"snapshot"`
}

// EncodeSnapshot serializes s into the versioned storage envelope.
func EncodeSnapshot(s Snapshot, savedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(envelope{Version: snapshotVersion, SavedAt: savedAt, Snapshot: s})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a storage envelope and normalizes the result: nil
// collections become empty, the achievement catalog is completed and link
// symmetry is repaired.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}

	s := env.Snapshot
	if s.Themes == nil {
		s.Themes = []Theme{}
	}
	if s.Insights == nil {
		s.Insights = []Insight{}
	}
	if s.Transcript.Messages == nil {
		s.Transcript.Messages = []ChatMessage{}
	}
	s.Achievements = normalizeCatalog(s.Achievements)
	RepairLinks(s.Insights)
	return s, nil
}
