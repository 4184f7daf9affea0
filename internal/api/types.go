package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"nano-banana-studio/internal/generation"
)

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

type User struct {
	ID        int64                `json:"id"`
	Username  string               `json:"username"`
	Email     string               `json:"email"`
	IsActive  bool                 `json:"is_active"`
	IsAdmin   bool                 `json:"is_admin"`
	CreatedAt generation.Timestamp `json:"created_at"`
}

type GenerateResult struct {
	Status   string `json:"status"`
	ImageID  int64  `json:"image_id"`
	ImageURL string `json:"image_url,omitempty"`
	Message  string `json:"message,omitempty"`
}

type StorageInfo struct {
	RetentionDays int `json:"retention_days"`
}

type Meta struct {
	Total       *int         `json:"total,omitempty"`
	Shown       *int         `json:"shown,omitempty"`
	StorageInfo *StorageInfo `json:"storage_info,omitempty"`
}

type ListResult struct {
	Generations []generation.Record
	Meta        *Meta
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// decodeList accepts both a bare array and {"generations": [...], "meta": {...}}.
func decodeList(raw json.RawMessage) (ListResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ListResult{}, nil
	}

	if trimmed[0] == '[' {
		var gens []generation.Record
		if err := json.Unmarshal(trimmed, &gens); err != nil {
			return ListResult{}, fmt.Errorf("%w: decode list: %v", ErrNetwork, err)
		}
		return ListResult{Generations: gens}, nil
	}

	var wrapped struct {
		Generations *[]generation.Record `json:"generations"`
		Meta        *Meta                `json:"meta"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return ListResult{}, fmt.Errorf("%w: decode list: %v", ErrNetwork, err)
	}
	if wrapped.Generations == nil {
		return ListResult{}, fmt.Errorf("%w: unexpected list format", ErrNetwork)
	}
	return ListResult{Generations: *wrapped.Generations, Meta: wrapped.Meta}, nil
}
