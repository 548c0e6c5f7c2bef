//go:build cgo

package graph

import "context"

// OpenFileStore opens a persistent store at path with an initialised schema.
func OpenFileStore(path string) (Store, error) {
	s, err := NewKuzuFileStore(path)
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
