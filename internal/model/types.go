package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateOnly is a calendar date serialized as "2006-01-02".
type DateOnly struct {
	time.Time
}

func (d DateOnly) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}

func (d *DateOnly) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

func (d DateOnly) Value() (driver.Value, error) {
	return d.Time, nil
}

func (d *DateOnly) Scan(src any) error {
	t, err := scanTime(src, time.DateOnly)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	d.Time = t
	return nil
}

// TimeOfDay is a wall-clock time serialized as "15:04:05"; "15:04" is
// accepted on input.
type TimeOfDay struct {
	time.Time
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.TimeOnly))
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range []string{time.TimeOnly, "15:04"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid time %q: expected HH:MM or HH:MM:SS", s)
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.Format(time.TimeOnly), nil
}

func (t *TimeOfDay) Scan(src any) error {
	parsed, err := scanTime(src, time.TimeOnly)
	if err != nil {
		return fmt.Errorf("scan time: %w", err)
	}
	t.Time = parsed
	return nil
}

// After compares two times by clock position, ignoring any date part the
// driver attached.
func (t TimeOfDay) After(other TimeOfDay) bool {
	return t.clock() > other.clock()
}

func (t TimeOfDay) clock() int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func scanTime(src any, layout string) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return time.Parse(layout, string(v))
	case string:
		return time.Parse(layout, v)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported source type %T", src)
	}
}

// Attributes is a free-form string map persisted as JSONB.
type Attributes map[string]string

func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Attributes) Scan(src any) error {
	return scanJSON(src, a)
}

// ProfileIDs is a UUID list persisted as JSONB.
type ProfileIDs []uuid.UUID

func (p ProfileIDs) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal([]uuid.UUID{})
	}
	return json.Marshal(p)
}

func (p *ProfileIDs) Scan(src any) error {
	return scanJSON(src, p)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported source type %T", src)
	}
}
