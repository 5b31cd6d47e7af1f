package model

import (
	"encoding/json"
	"time"
)

type CreateDocRequest struct {
	Title string `json:"title"`
}

type CreateDocResponse struct {
	DocID     string    `json:"document_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SaveDocRequest struct {
	Title             *string         `json:"title,omitempty"`
	Content           json.RawMessage `json:"content,omitempty"`
	Visibility        *Visibility     `json:"visibility,omitempty"`
	ExpectedUpdatedAt time.Time       `json:"expected_updated_at" validate:"required"`
}

type SaveDocResponse struct {
	UpdatedAt time.Time `json:"updated_at"`
}

type RenameDocRequest struct {
	Title             string    `json:"title" validate:"required,min=1"`
	ExpectedUpdatedAt time.Time `json:"expected_updated_at" validate:"required"`
}

type ShareDocRequest struct {
	UserID     string     `json:"user_id" validate:"required"`
	Permission Permission `json:"permission" validate:"required,oneof=view edit"`
}
