// Package network implements the Network entity: a broker-side transport
// (a vhost/topic tree on an AMQP or MQTT host) that devices attach to. A
// network is either unit-scoped or public: when unit is absent, code is
// globally unique and any device may join it regardless of tenancy.
package network

import "time"

// CreateRequest is the JSON body for POST /api/v1/networks. UnitID is
// optional: when omitted the network is public and Code is checked for
// global uniqueness rather than uniqueness within a unit.
type CreateRequest struct {
	UnitID  string         `json:"unit_id" validate:"omitempty,uuid4"`
	Code    string         `json:"code" validate:"required,min=2,max=64"`
	Name    string         `json:"name" validate:"required,min=2,max=128"`
	HostURI string         `json:"host_uri" validate:"required,uri"`
	Info    map[string]any `json:"info"`
}

// UpdateRequest is the JSON body for PUT /api/v1/networks/:id. Code and
// UnitID cannot change once a network exists; HostURI may, which
// re-provisions the broker resource on the new host (spec.md §4.5).
type UpdateRequest struct {
	Name    string         `json:"name" validate:"required,min=2,max=128"`
	HostURI string         `json:"host_uri" validate:"required,uri"`
	Info    map[string]any `json:"info"`
}

// Response is the JSON response for a single network.
type Response struct {
	ID        string         `json:"id"`
	UnitID    string         `json:"unit_id,omitempty"`
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	HostURI   string         `json:"host_uri"`
	Info      map[string]any `json:"info"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Row is the persisted shape of a network. UnitID is empty for a public
// network.
type Row struct {
	ID        string         `db:"id" bson:"_id"`
	UnitID    string         `db:"unit_id" bson:"unit_id"`
	Code      string         `db:"code" bson:"code"`
	Name      string         `db:"name" bson:"name"`
	HostURI   string         `db:"host_uri" bson:"host_uri"`
	Info      map[string]any `db:"info" bson:"info"`
	CreatedAt time.Time      `db:"created_at" bson:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" bson:"updated_at"`
}

func (r Row) EntityID() string           { return r.ID }
func (r Row) EntityCreatedAt() time.Time { return r.CreatedAt }

// IsPublic reports whether this network is unit-less.
func (r Row) IsPublic() bool { return r.UnitID == "" }

// ToResponse converts a Row to its Response DTO.
func (r Row) ToResponse() Response {
	info := r.Info
	if info == nil {
		info = map[string]any{}
	}
	return Response{
		ID:        r.ID,
		UnitID:    r.UnitID,
		Code:      r.Code,
		Name:      r.Name,
		HostURI:   r.HostURI,
		Info:      info,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
