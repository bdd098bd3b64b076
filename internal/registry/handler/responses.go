package handler

import (
	"time"

	"objectmap/internal/registry/models"
)

// StatusResponse describes the registry lifecycle.
type StatusResponse struct {
	Size          int        `json:"size"`
	Count         int        `json:"count"`
	Phase         string     `json:"phase"`
	Initialized   bool       `json:"initialized"`
	Frozen        bool       `json:"frozen"`
	Ownership     string     `json:"ownership"`
	Owner         string     `json:"owner,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	FrozenAt      *time.Time `json:"frozen_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EntryResponse is one binding.
type EntryResponse struct {
	Number   uint32 `json:"number"`
	ObjectID string `json:"object_id"`
}

// ListResponse is a page of bindings. Next is the number to resume from.
type ListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Next    *uint32         `json:"next,omitempty"`
}

func FromRegistry(reg *models.Registry) *StatusResponse {
	return &StatusResponse{
		Size:          reg.Size,
		Count:         reg.Count,
		Phase:         string(reg.Phase()),
		Initialized:   reg.Initialized,
		Frozen:        reg.Frozen,
		Ownership:     string(reg.Ownership.Kind),
		Owner:         reg.Ownership.Owner,
		CreatedAt:     reg.CreatedAt,
		InitializedAt: reg.InitializedAt,
		FrozenAt:      reg.FrozenAt,
		UpdatedAt:     reg.UpdatedAt,
	}
}

func FromEntries(entries []models.Entry, limit, size int) *ListResponse {
	resp := &ListResponse{Entries: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryResponse{Number: uint32(e.Number), ObjectID: e.ObjectID.String()})
	}
	if len(entries) == limit && limit > 0 {
		last := uint32(entries[len(entries)-1].Number)
		if int64(last) < int64(size) {
			next := last + 1
			resp.Next = &next
		}
	}
	return resp
}
