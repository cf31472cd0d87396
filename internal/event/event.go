// Package event holds the recurring boss event model shared by the registry,
// the reminder scheduler and the presentation layer.
package event

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is matched by every *ValidationError.
var ErrInvalid = errors.New("invalid event")

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Definition is one recurring event at a wall-clock time in the scheduler zone.
type Definition struct {
	Name       string     `json:"name"`
	Recurrence Recurrence `json:"day"`
	Hour       int        `json:"hour"`
	Minute     int        `json:"minute"`
}

// Validate checks ranges and the recurrence enum.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if err := ValidateClock(d.Hour, d.Minute); err != nil {
		return err
	}
	if !d.Recurrence.Valid() {
		return &ValidationError{Field: "day", Reason: fmt.Sprintf("unknown recurrence %d", int(d.Recurrence))}
	}
	return nil
}

// ValidateClock checks hour in [0,23] and minute in [0,59].
func ValidateClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return &ValidationError{Field: "hour", Reason: fmt.Sprintf("%d out of range 0-23", hour)}
	}
	if minute < 0 || minute > 59 {
		return &ValidationError{Field: "minute", Reason: fmt.Sprintf("%d out of range 0-59", minute)}
	}
	return nil
}

// Clock renders the trigger time as HH:MM.
func (d Definition) Clock() string { return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute) }

// Defaults is the seed schedule used when nothing has been persisted yet.
func Defaults() []Definition {
	return []Definition{
		{Name: "Guild Boss", Recurrence: Saturday, Hour: 20, Minute: 0},
		{Name: "Garbana Dungeon", Recurrence: Saturday, Hour: 20, Minute: 0},
		{Name: "World Boss: Ratan, Parto, Nedra", Recurrence: Everyday, Hour: 11, Minute: 0},
		{Name: "World Boss: Ratan, Parto, Nedra", Recurrence: Everyday, Hour: 20, Minute: 0},
	}
}

// ValidateAll validates a whole list and reports the first offending index.
func ValidateAll(defs []Definition) error {
	for i, d := range defs {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("event[%d]: %w", i, err)
		}
	}
	return nil
}
