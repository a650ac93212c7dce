package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusClear      Status = "clear"
	StatusAlarm      Status = "alarm"
	StatusRequest    Status = "request"
	StatusWasAlarmed Status = "was_alarmed"
)

// ParseStatus fails closed: anything unrecognized is StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clear":
		return StatusClear
	case "alarm":
		return StatusAlarm
	case "request":
		return StatusRequest
	case "was_alarmed":
		return StatusWasAlarmed
	default:
		return StatusUnknown
	}
}

type Intent string

const (
	IntentAlarm   Intent = "alarm"
	IntentClear   Intent = "clear"
	IntentRequest Intent = "request"
	IntentUnknown Intent = "unknown"
	IntentIgnore  Intent = "ignore"
)

type ChatEvent struct {
	Room               string    `json:"room"`
	Author             string    `json:"author"`
	RawText            string    `json:"raw_text"`
	PlainText          string    `json:"plain_text"`
	UpperText          string    `json:"-"`
	Timestamp          time.Time `json:"timestamp"`
	MentionedLocations []string  `json:"mentioned_locations,omitempty"`
	Intent             Intent    `json:"intent"`
	Source             string    `json:"source,omitempty"`
}

// DedupKey identifies the same chat line delivered more than once.
func (e ChatEvent) DedupKey() string {
	return strings.Join([]string{
		e.Room,
		e.PlainText,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Author,
	}, "\x1f")
}

type LocationState struct {
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	LastChangeTime time.Time `json:"last_change_time"`
	LastAlarmTime  time.Time `json:"last_alarm_time"`
}

// LocationView is a LocationState with colors resolved at a point in time.
type LocationView struct {
	LocationState
	Background string `json:"background"`
	Text       string `json:"text"`
}

type StateChange struct {
	Location   string    `json:"location"`
	Previous   Status    `json:"previous"`
	Status     Status    `json:"status"`
	Background string    `json:"background"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
	Cause      string    `json:"cause"`
}

type Direction string

const (
	OneWay Direction = "one_way"
	TwoWay Direction = "two_way"
)

type TopologyEdge struct {
	From      string    `json:"from" cbor:"1,keyasint"`
	To        string    `json:"to" cbor:"2,keyasint"`
	Status    string    `json:"status,omitempty" cbor:"3,keyasint,omitempty"`
	Distance  float64   `json:"distance,omitempty" cbor:"4,keyasint,omitempty"`
	Direction Direction `json:"direction" cbor:"5,keyasint"`
}

// Known is a tracked reporter: who spoke last from where, and whether
// the presentation layer should watch them.
type Known struct {
	Name         string `json:"name"`
	Monitor      bool   `json:"monitor"`
	LastLocation string `json:"last_location,omitempty"`
}
