// README: Users, customer/worker profiles and the service catalog.
package entity

import (
	"time"

	"karigar/internal/types"
)

type User struct {
	ID           types.ID   `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         types.Role `json:"role"`
	DisplayName  string     `json:"display_name"`
	Phone        string     `json:"phone,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Customer duplicates contact data from its User for fast reads.
type Customer struct {
	ID        types.ID  `json:"id"`
	UserID    types.ID  `json:"user_id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	City      string    `json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityBusy    Availability = "busy"
	AvailabilityOffline Availability = "offline"
)

type WorkerKind string

const (
	WorkerIndividual WorkerKind = "individual"
	// WorkerCrew is a thekedar leading a sub-contracted crew.
	WorkerCrew WorkerKind = "crew"
)

type Worker struct {
	ID              types.ID     `json:"id"`
	UserID          types.ID     `json:"user_id"`
	Kind            WorkerKind   `json:"kind"`
	DisplayName     string       `json:"display_name"`
	Bio             string       `json:"bio,omitempty"`
	Skills          []string     `json:"skills,omitempty"`
	ServiceRadiusKm float64      `json:"service_radius_km"`
	BasePrice       types.Money  `json:"base_price"`
	CrewSize        int          `json:"crew_size,omitempty"`
	Availability    Availability `json:"availability"`
	LastLocation    *types.Point `json:"last_location,omitempty"`
	LastLocationAt  *time.Time   `json:"last_location_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type CatalogEntry struct {
	ID          types.ID    `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Price       types.Money `json:"price"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// WorkerPatch carries the profile fields a worker may edit. Availability is
// written only by the booking lifecycle.
type WorkerPatch struct {
	DisplayName     *string
	Bio             *string
	Skills          []string
	ServiceRadiusKm *float64
	BasePrice       *types.Money
	CrewSize        *int
}
