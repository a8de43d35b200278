package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adamavenir/rooms/internal/types"
	"gopkg.in/yaml.v3"
)

// LoadMembership reads room.yaml. ok is false when the file does not exist.
func (s *Store) LoadMembership(room string) (types.Membership, bool, error) {
	data, err := os.ReadFile(s.membershipPath(room))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Membership{}, false, nil
		}
		return types.Membership{}, false, err
	}

	var m types.Membership
	if err := yaml.Unmarshal(data, &m); err != nil {
		return types.Membership{}, true, fmt.Errorf("parse %s/%s: %w", room, membershipFile, err)
	}
	return m, true, nil
}

// SaveMembership writes room.yaml through a temp file and rename.
func (s *Store) SaveMembership(room string, m types.Membership) error {
	if m.Participants == nil {
		m.Participants = []string{}
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}

	dir := s.roomDir(room)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".room-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, membershipFile)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save %s/%s: %w", room, membershipFile, err)
	}
	return nil
}
