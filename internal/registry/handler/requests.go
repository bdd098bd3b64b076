package handler

import (
	"strings"

	"objectmap/internal/registry/models"
	dErrors "objectmap/pkg/domain-errors"
)

// AddEntryRequest is the HTTP request body for POST /internal/registry/entries.
type AddEntryRequest struct {
	Number   uint32 `json:"number"`
	ObjectID string `json:"object_id"`

	parsedID models.ObjectID
}

// Validate parses the object id. The number's range is checked by the service.
func (r *AddEntryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ObjectID = strings.TrimSpace(r.ObjectID)
	if r.ObjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "object_id is required")
	}
	id, err := models.ParseObjectID(r.ObjectID)
	if err != nil {
		return err
	}
	r.parsedID = id
	return nil
}

func (r *AddEntryRequest) ParsedObjectID() models.ObjectID {
	return r.parsedID
}
