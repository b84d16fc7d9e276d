package repository

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var credentialValidator = validator.New()

// MemoryCredential carries no secrets; the name only shows up in logs.
type MemoryCredential struct {
	Name string `json:"name"`
}

// FileCredential points a tenant at a local JSON data file.
type FileCredential struct {
	Path string `json:"path" validate:"required"`
}

// ServiceAccountCredential is the subset of a Google service-account key the
// Firestore backend checks before handing the raw payload to the SDK.
type ServiceAccountCredential struct {
	Type        string `json:"type" validate:"required,eq=service_account"`
	ProjectID   string `json:"project_id" validate:"required"`
	PrivateKey  string `json:"private_key" validate:"required"`
	ClientEmail string `json:"client_email" validate:"required,email"`
}

// MongoCredential selects a MongoDB deployment and database for a tenant.
type MongoCredential struct {
	URI      string `json:"uri" validate:"required,startswith=mongodb"`
	Database string `json:"database" validate:"required"`
}

// decodeCredential requires raw to be a JSON object, decodes it into out and
// validates the struct tags.
func decodeCredential(raw json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return credentialError("payload must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return credentialError("decode: %v", err)
	}
	if err := credentialValidator.Struct(out); err != nil {
		return credentialError("validate: %v", err)
	}
	return nil
}
