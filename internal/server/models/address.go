package models

// Address is a delivery address linked to a user.
type Address struct {
	ID              int64   `json:"id"`
	Region          string  `json:"region"`
	RegionDistrict  *string `json:"regionDistrict,omitempty"`
	NumberedAddress *string `json:"numberedAddress,omitempty"`
	Street          string  `json:"street"`
	House           string  `json:"house"`
	Entrance        *string `json:"entrance,omitempty"`
	Floor           *string `json:"floor,omitempty"`
	Flat            *string `json:"flat,omitempty"`
	EntranceKey     *string `json:"entranceKey,omitempty"`
}
