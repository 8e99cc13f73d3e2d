package model

import "time"

type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FirstName *string   `db:"first_name" json:"first_name"`
	LastName  *string   `db:"last_name" json:"last_name"`
	Phone     *string   `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Event struct {
	ID             string     `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Plan           string     `db:"plan" json:"plan"`
	Location       string     `db:"location" json:"location"`
	RestaurantName *string    `db:"restaurant_name" json:"restaurant_name"`
	Date           DateOnly   `db:"date" json:"date"`
	Time           TimeOfDay  `db:"time" json:"time"`
	EventType      string     `db:"event_type" json:"event_type"`
	ExpectedGuests *int       `db:"expected_guests" json:"expected_guests"`
	Description    *string    `db:"description" json:"description"`
	QRCodeURL      *string    `db:"qr_code_url" json:"qr_code_url"`
	LandingPageURL *string    `db:"landing_page_url" json:"landing_page_url"`
	PhotoCount     int        `db:"photo_count" json:"photo_count"`
	GuestCount     int        `db:"guest_count" json:"guest_count"`
	Status         string     `db:"status" json:"status"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	OwnerID        string     `db:"owner_id" json:"-"`

	// Populated by the store, not scanned from the events row.
	Owner  *User   `db:"-" json:"owner,omitempty"`
	Agenda *Agenda `db:"-" json:"agenda"`
}

type Agenda struct {
	ID          string       `db:"id" json:"id"`
	EventID     string       `db:"event_id" json:"event_id"`
	Title       string       `db:"title" json:"title"`
	Description *string      `db:"description" json:"description"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
	Items       []AgendaItem `db:"-" json:"items"`
}

type AgendaItem struct {
	ID           string     `db:"id" json:"id"`
	AgendaID     string     `db:"agenda_id" json:"agenda_id"`
	Title        string     `db:"title" json:"title"`
	Description  *string    `db:"description" json:"description"`
	StartTime    TimeOfDay  `db:"start_time" json:"start_time"`
	EndTime      *TimeOfDay `db:"end_time" json:"end_time"`
	Location     *string    `db:"location" json:"location"`
	Type         string     `db:"type" json:"type"`
	DisplayOrder int        `db:"display_order" json:"display_order"`
	IsImportant  bool       `db:"is_important" json:"is_important"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// EventPatch carries the partial-update fields for an event; nil means
// leave unchanged.
type EventPatch struct {
	Name           *string
	Location       *string
	RestaurantName *string
	Date           *DateOnly
	Time           *TimeOfDay
	EventType      *string
	ExpectedGuests *int
	Description    *string
}

type UserPatch struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

type AgendaPatch struct {
	Title       *string
	Description *string
}

type AgendaItemPatch struct {
	Title        *string
	Description  *string
	StartTime    *TimeOfDay
	EndTime      *TimeOfDay
	Location     *string
	Type         *string
	DisplayOrder *int
	IsImportant  *bool
}

// ReorderItem assigns a new display order to one agenda item.
type ReorderItem struct {
	ItemID       string `json:"item_id"`
	DisplayOrder int    `json:"display_order"`
}
