// Package device implements the Device entity: an end device belonging to
// a unit, joined to exactly one network at a network address.
package device

import "time"

// CreateRequest is the JSON body for POST /api/v1/devices. NetworkID must
// name a network that is either owned by UnitID or public (spec.md §3
// invariant 2).
type CreateRequest struct {
	UnitID      string         `json:"unit_id" validate:"required,uuid4"`
	NetworkID   string         `json:"network_id" validate:"required,uuid4"`
	NetworkAddr string         `json:"network_addr" validate:"required,min=1,max=64"`
	Profile     string         `json:"profile" validate:"omitempty,max=64"`
	Name        string         `json:"name" validate:"required,min=1,max=128"`
	Info        map[string]any `json:"info"`
}

// BulkCreateRequest is the JSON body for POST /api/v1/devices/bulk.
type BulkCreateRequest struct {
	Devices []CreateRequest `json:"devices" validate:"required,min=1,max=10000,dive"`
}

// UpdateRequest is the JSON body for PUT /api/v1/devices/:id.
type UpdateRequest struct {
	Profile string         `json:"profile" validate:"omitempty,max=64"`
	Name    string         `json:"name" validate:"required,min=1,max=128"`
	Info    map[string]any `json:"info"`
}

// Response is the JSON response for a single device. UnitCode is
// denormalized from the owning unit so routing lookups never need a join.
type Response struct {
	ID          string         `json:"id"`
	UnitID      string         `json:"unit_id"`
	UnitCode    string         `json:"unit_code"`
	NetworkID   string         `json:"network_id"`
	NetworkAddr string         `json:"network_addr"`
	Profile     string         `json:"profile,omitempty"`
	Name        string         `json:"name"`
	Info        map[string]any `json:"info"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Row is the persisted shape of a device.
type Row struct {
	ID          string         `db:"id" bson:"_id"`
	UnitID      string         `db:"unit_id" bson:"unit_id"`
	UnitCode    string         `db:"unit_code" bson:"unit_code"`
	NetworkID   string         `db:"network_id" bson:"network_id"`
	NetworkAddr string         `db:"network_addr" bson:"network_addr"`
	Profile     string         `db:"profile" bson:"profile"`
	Name        string         `db:"name" bson:"name"`
	Info        map[string]any `db:"info" bson:"info"`
	CreatedAt   time.Time      `db:"created_at" bson:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" bson:"updated_at"`
}

func (r Row) EntityID() string           { return r.ID }
func (r Row) EntityCreatedAt() time.Time { return r.CreatedAt }

// ToResponse converts a Row to its Response DTO.
func (r Row) ToResponse() Response {
	info := r.Info
	if info == nil {
		info = map[string]any{}
	}
	return Response{
		ID:          r.ID,
		UnitID:      r.UnitID,
		UnitCode:    r.UnitCode,
		NetworkID:   r.NetworkID,
		NetworkAddr: r.NetworkAddr,
		Profile:     r.Profile,
		Name:        r.Name,
		Info:        info,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
