// Package unit implements the Unit entity: the tenancy boundary every
// Application, Network, and Device belongs to.
package unit

import "time"

// CreateRequest is the JSON body for POST /api/v1/units. Code is
// immutable after create; Owner defaults to the calling user unless the
// caller is admin/manager, per spec.md §4.5.
type CreateRequest struct {
	Code    string         `json:"code" validate:"required,min=2,max=64"`
	Name    string         `json:"name" validate:"required,min=2,max=128"`
	OwnerID string         `json:"owner_id" validate:"omitempty,uuid4"`
	Info    map[string]any `json:"info"`
}

// UpdateRequest is the JSON body for PUT /api/v1/units/:id. Code cannot be
// changed once a unit exists (spec.md §3).
type UpdateRequest struct {
	Name    string         `json:"name" validate:"required,min=2,max=128"`
	OwnerID string         `json:"owner_id" validate:"omitempty,uuid4"`
	Members []string       `json:"members"`
	Info    map[string]any `json:"info"`
}

// Response is the JSON response for a single unit.
type Response struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	OwnerID   string         `json:"owner_id"`
	Members   []string       `json:"members"`
	Info      map[string]any `json:"info"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Row is the persisted shape of a unit; `db` tags drive the Postgres
// backend's generic RowToStructByNameLax scan, `bson` tags the Mongo
// backend's native document marshaling.
type Row struct {
	ID        string         `db:"id" bson:"_id"`
	Code      string         `db:"code" bson:"code"`
	Name      string         `db:"name" bson:"name"`
	OwnerID   string         `db:"owner_id" bson:"owner_id"`
	Members   []string       `db:"members" bson:"members"`
	Info      map[string]any `db:"info" bson:"info"`
	CreatedAt time.Time      `db:"created_at" bson:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" bson:"updated_at"`
}

// EntityID and EntityCreatedAt satisfy mongo.Entity for the document backend.
func (r Row) EntityID() string           { return r.ID }
func (r Row) EntityCreatedAt() time.Time { return r.CreatedAt }

// HasMember reports whether userID is the owner or a listed member.
func (r Row) HasMember(userID string) bool {
	if r.OwnerID == userID {
		return true
	}
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ToResponse converts a Row to its Response DTO.
func (r Row) ToResponse() Response {
	info := r.Info
	if info == nil {
		info = map[string]any{}
	}
	members := r.Members
	if members == nil {
		members = []string{}
	}
	return Response{
		ID:        r.ID,
		Code:      r.Code,
		Name:      r.Name,
		OwnerID:   r.OwnerID,
		Members:   members,
		Info:      info,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
