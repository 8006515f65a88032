// Package dldatabuffer implements the DlDataBuffer entity: downlink
// payloads queued pending delivery confirmation, correlated by
// (unit, application, network, network_addr, device) per spec.md §3 so a
// downlink publisher can look up pending payloads without a join back
// through DeviceRoute.
package dldatabuffer

import "time"

// CreateRequest is the JSON body for POST /api/v1/dl-data-buffers. The
// full correlation record is denormalized from the referenced device
// route at creation time.
type CreateRequest struct {
	DeviceRouteID string     `json:"device_route_id" validate:"required,uuid4"`
	Payload       []byte     `json:"payload" validate:"required"`
	Confirmed     bool       `json:"confirmed"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// Response is the JSON response for a single buffered downlink payload.
type Response struct {
	ID            string         `json:"id"`
	DeviceRouteID string         `json:"device_route_id"`
	UnitID        string         `json:"unit_id"`
	UnitCode      string         `json:"unit_code"`
	ApplicationID string         `json:"application_id"`
	NetworkID     string         `json:"network_id"`
	NetworkCode   string         `json:"network_code"`
	NetworkAddr   string         `json:"network_addr"`
	DeviceID      string         `json:"device_id"`
	Payload       []byte         `json:"payload"`
	Confirmed     bool           `json:"confirmed"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Row is the persisted shape of a buffered downlink payload: a correlation
// record keyed by (unit, application, network, network_addr, device) plus
// the opaque payload bytes.
type Row struct {
	ID            string     `db:"id" bson:"_id"`
	DeviceRouteID string     `db:"device_route_id" bson:"device_route_id"`
	UnitID        string     `db:"unit_id" bson:"unit_id"`
	UnitCode      string     `db:"unit_code" bson:"unit_code"`
	ApplicationID string     `db:"application_id" bson:"application_id"`
	NetworkID     string     `db:"network_id" bson:"network_id"`
	NetworkCode   string     `db:"network_code" bson:"network_code"`
	NetworkAddr   string     `db:"network_addr" bson:"network_addr"`
	DeviceID      string     `db:"device_id" bson:"device_id"`
	Payload       []byte     `db:"payload" bson:"payload"`
	Confirmed     bool       `db:"confirmed" bson:"confirmed"`
	ExpiresAt     *time.Time `db:"expires_at" bson:"expires_at"`
	CreatedAt     time.Time  `db:"created_at" bson:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" bson:"updated_at"`
}

func (r Row) EntityID() string           { return r.ID }
func (r Row) EntityCreatedAt() time.Time { return r.CreatedAt }

// ToResponse converts a Row to its Response DTO.
func (r Row) ToResponse() Response {
	return Response{
		ID:            r.ID,
		DeviceRouteID: r.DeviceRouteID,
		UnitID:        r.UnitID,
		UnitCode:      r.UnitCode,
		ApplicationID: r.ApplicationID,
		NetworkID:     r.NetworkID,
		NetworkCode:   r.NetworkCode,
		NetworkAddr:   r.NetworkAddr,
		DeviceID:      r.DeviceID,
		Payload:       r.Payload,
		Confirmed:     r.Confirmed,
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
