// Package networkroute implements the NetworkRoute entity: the binding of
// a Network to an Application, the routing-table row the
// "networkroute.uldata" cache group reads through to fan uplink data from
// every device on that network out to the application (spec.md §4.2).
// Unique per (network, application).
package networkroute

import "time"

// CreateRequest is the JSON body for POST /api/v1/network-routes.
type CreateRequest struct {
	NetworkID     string         `json:"network_id" validate:"required,uuid4"`
	ApplicationID string         `json:"application_id" validate:"required,uuid4"`
	Info          map[string]any `json:"info"`
}

// UpdateRequest is the JSON body for PUT /api/v1/network-routes/:id.
type UpdateRequest struct {
	Info map[string]any `json:"info"`
}

// Response is the JSON response for a single network route. UnitCode,
// ApplicationCode, and NetworkCode are denormalized from the referenced
// unit/application/network so a listing never needs a join to show them.
type Response struct {
	ID              string         `json:"id"`
	NetworkID       string         `json:"network_id"`
	ApplicationID   string         `json:"application_id"`
	UnitID          string         `json:"unit_id,omitempty"`
	UnitCode        string         `json:"unit_code,omitempty"`
	ApplicationCode string         `json:"application_code"`
	NetworkCode     string         `json:"network_code"`
	ULDataKey       string         `json:"ul_data_key"`
	Info            map[string]any `json:"info"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Row is the persisted shape of a network route. ULDataKey is the
// "networkroute.uldata" cache group's key, keyed by network_id (spec.md
// §4.2).
type Row struct {
	ID              string         `db:"id" bson:"_id"`
	NetworkID       string         `db:"network_id" bson:"network_id"`
	ApplicationID   string         `db:"application_id" bson:"application_id"`
	UnitID          string         `db:"unit_id" bson:"unit_id"`
	UnitCode        string         `db:"unit_code" bson:"unit_code"`
	ApplicationCode string         `db:"application_code" bson:"application_code"`
	NetworkCode     string         `db:"network_code" bson:"network_code"`
	ULDataKey       string         `db:"ul_data_key" bson:"ul_data_key"`
	Info            map[string]any `db:"info" bson:"info"`
	CreatedAt       time.Time      `db:"created_at" bson:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" bson:"updated_at"`
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
		ID:              r.ID,
		NetworkID:       r.NetworkID,
		ApplicationID:   r.ApplicationID,
		UnitID:          r.UnitID,
		UnitCode:        r.UnitCode,
		ApplicationCode: r.ApplicationCode,
		NetworkCode:     r.NetworkCode,
		ULDataKey:       r.ULDataKey,
		Info:            info,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
