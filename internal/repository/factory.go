package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
)

// NewOpener returns the Opener for the configured backend.
// "firestore" (default) expects a service-account key, "mongo" a MongoCredential,
// "file" a FileCredential and "memory" any JSON object.
func NewOpener(backend string) (Opener, error) {
	switch backend {
	case BackendMemory:
		return openMemory, nil
	case BackendFile:
		return openFile, nil
	case BackendMongo:
		return OpenMongo, nil
	case BackendFirestore, "":
		return OpenFirestore, nil
	default:
		return nil, fmt.Errorf("unknown database backend: %s (supported: %s, %s, %s, %s)",
			backend, BackendFirestore, BackendMongo, BackendFile, BackendMemory)
	}
}

func openMemory(_ context.Context, cred json.RawMessage) (Database, error) {
	var mc MemoryCredential
	if err := decodeCredential(cred, &mc); err != nil {
		return nil, err
	}
	return NewMemoryDatabase(), nil
}

func openFile(_ context.Context, cred json.RawMessage) (Database, error) {
	var fc FileCredential
	if err := decodeCredential(cred, &fc); err != nil {
		return nil, err
	}
	db, err := NewFileDatabase(fc.Path)
	if err != nil {
		return nil, fmt.Errorf("open file database: %w", err)
	}
	return db, nil
}
