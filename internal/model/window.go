package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleWindow is a within-day time range during which an action type may
// be scheduled. Start and End are minutes since midnight UTC; End is
// exclusive and must be greater than Start.
type ScheduleWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

const minutesPerDay = 24 * 60

// ParseWindow parses a window from "HH:MM-HH:MM" form.
func ParseWindow(s string) (ScheduleWindow, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(s, "%02d:%02d-%02d:%02d", &sh, &sm, &eh, &em); err != nil {
		return ScheduleWindow{}, fmt.Errorf("malformed window %q: %w", s, err)
	}
	w := ScheduleWindow{Start: sh*60 + sm, End: eh*60 + em}
	if err := w.Validate(); err != nil {
		return ScheduleWindow{}, err
	}
	return w, nil
}

func (w ScheduleWindow) Validate() error {
	if w.Start < 0 || w.Start >= minutesPerDay {
		return fmt.Errorf("window start %d out of range", w.Start)
	}
	if w.End <= w.Start || w.End > minutesPerDay {
		return fmt.Errorf("window end %d must be after start %d and within the day", w.End, w.Start)
	}
	return nil
}

// Contains reports whether the wall-clock minute of t (in UTC) falls inside
// the window.
func (w ScheduleWindow) Contains(t time.Time) bool {
	m := t.UTC().Hour()*60 + t.UTC().Minute()
	return m >= w.Start && m < w.End
}

// Width returns the window length in minutes.
func (w ScheduleWindow) Width() int {
	return w.End - w.Start
}

func (w ScheduleWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// WindowMap holds the schedule windows per action type. It is stored as a
// JSON column.
type WindowMap map[ActionType][]ScheduleWindow

func (m WindowMap) Validate() error {
	for action, windows := range m {
		if !action.Valid() {
			return fmt.Errorf("unknown action type %q", action)
		}
		for _, w := range windows {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
		}
	}
	return nil
}

// Value marshals the map for storage. A nil map becomes SQL NULL so that
// COALESCE-based partial updates can tell "unchanged" from "cleared".
func (m WindowMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *WindowMap) Scan(src any) error {
	return scanJSON(src, m)
}

// ActionTuning is optimizer-owned override state for one action type.
// Windows, when present, take precedence over the account's base windows;
// MaxScale scales the configured daily max down to the effective max.
type ActionTuning struct {
	Windows   []ScheduleWindow `json:"windows,omitempty"`
	MaxScale  float64          `json:"maxScale"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type TuningMap map[ActionType]ActionTuning

func (m TuningMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *TuningMap) Scan(src any) error {
	return scanJSON(src, m)
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
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}
