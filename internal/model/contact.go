package model

import (
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	ContactID        uuid.UUID  `db:"contact_id" json:"contact_id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	FullName         string     `db:"full_name" json:"full_name"`
	ContactType      string     `db:"contact_type" json:"contact_type"`
	Owner            *string    `db:"owner" json:"owner"`
	CreatedBy        string     `db:"created_by" json:"created_by"`
	Email            *string    `db:"email" json:"email"`
	Phone            *string    `db:"phone" json:"phone"`
	Attributes       Attributes `db:"attributes" json:"attributes,omitempty"`
	ListOfProfileIDs ProfileIDs `db:"list_of_profile_ids" json:"list_of_profile_ids"`
	DateCreated      time.Time  `db:"date_created" json:"date_created"`
	DateModified     time.Time  `db:"date_modified" json:"date_modified"`
}
