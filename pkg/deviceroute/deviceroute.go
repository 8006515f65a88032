// Package deviceroute implements the DeviceRoute entity: the binding of a
// Device to an Application, the routing-table row the uplink/downlink
// Cache Layer reads through (spec.md §4.2). Unique per (application,
// device).
package deviceroute

import "time"

// CreateRequest is the JSON body for POST /api/v1/device-routes.
type CreateRequest struct {
	DeviceID      string         `json:"device_id" validate:"required,uuid4"`
	ApplicationID string         `json:"application_id" validate:"required,uuid4"`
	Info          map[string]any `json:"info"`
}

// UpdateRequest is the JSON body for PUT /api/v1/device-routes/:id.
type UpdateRequest struct {
	Info map[string]any `json:"info"`
}

// Response is the JSON response for a single device route. UnitCode,
// ApplicationCode, and NetworkCode are denormalized from the referenced
// unit/application/network so the Cache Layer never needs a join to build
// its routing keys.
type Response struct {
	ID              string         `json:"id"`
	DeviceID        string         `json:"device_id"`
	ApplicationID   string         `json:"application_id"`
	NetworkID       string         `json:"network_id"`
	UnitID          string         `json:"unit_id"`
	NetworkAddr     string         `json:"network_addr"`
	Profile         string         `json:"profile,omitempty"`
	UnitCode        string         `json:"unit_code"`
	ApplicationCode string         `json:"application_code"`
	NetworkCode     string         `json:"network_code"`
	ULDataKey       string         `json:"ul_data_key"`
	DLDataKey       string         `json:"dl_data_key"`
	DLDataPubKey    string         `json:"dl_data_pub_key"`
	Info            map[string]any `json:"info"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Row is the persisted shape of a device route. ULDataKey/DLDataKey/
// DLDataPubKey are the three cache-group lookup keys spec.md §4.2 names
// ("deviceroute.uldata", "deviceroute.dldata", "deviceroute.dldata_pub").
type Row struct {
	ID              string         `db:"id" bson:"_id"`
	DeviceID        string         `db:"device_id" bson:"device_id"`
	ApplicationID   string         `db:"application_id" bson:"application_id"`
	NetworkID       string         `db:"network_id" bson:"network_id"`
	UnitID          string         `db:"unit_id" bson:"unit_id"`
	NetworkAddr     string         `db:"network_addr" bson:"network_addr"`
	Profile         string         `db:"profile" bson:"profile"`
	UnitCode        string         `db:"unit_code" bson:"unit_code"`
	ApplicationCode string         `db:"application_code" bson:"application_code"`
	NetworkCode     string         `db:"network_code" bson:"network_code"`
	ULDataKey       string         `db:"ul_data_key" bson:"ul_data_key"`
	DLDataKey       string         `db:"dl_data_key" bson:"dl_data_key"`
	DLDataPubKey    string         `db:"dl_data_pub_key" bson:"dl_data_pub_key"`
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
		DeviceID:        r.DeviceID,
		ApplicationID:   r.ApplicationID,
		NetworkID:       r.NetworkID,
		UnitID:          r.UnitID,
		NetworkAddr:     r.NetworkAddr,
		Profile:         r.Profile,
		UnitCode:        r.UnitCode,
		ApplicationCode: r.ApplicationCode,
		NetworkCode:     r.NetworkCode,
		ULDataKey:       r.ULDataKey,
		DLDataKey:       r.DLDataKey,
		DLDataPubKey:    r.DLDataPubKey,
		Info:            info,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}
