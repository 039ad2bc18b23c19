package domain

import (
	"strconv"
	"strings"
	"time"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatSold      SeatStatus = "SOLD"
)

func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatHeld, SeatSold:
		return true
	}
	return false
}

// SeatRecord is the ledger entry of one seat for one event.
type SeatRecord struct {
	EventID     string
	SeatID      string
	Status      SeatStatus
	HolderToken string
	HeldUntil   time.Time
	TicketID    string
	TicketType  string
	Version     int64
	UpdatedAt   time.Time
	// DisplacedToken is the last holder whose expired hold was taken over or
	// reaped. It survives later transitions until another hold is displaced.
	DisplacedToken string
}

// NewSeatRecord is the lazily created initial state of a seat.
func NewSeatRecord(eventID, seatID string) SeatRecord {
	return SeatRecord{
		EventID: eventID,
		SeatID:  seatID,
		Status:  SeatAvailable,
		Version: 0,
	}
}

// Expired reports whether the record is a hold whose ttl has run out at now.
func (r SeatRecord) Expired(now time.Time) bool {
	return r.Status == SeatHeld && !r.HeldUntil.IsZero() && !now.Before(r.HeldUntil)
}

// EffectiveStatus is the status a reader acts on: an expired hold counts as
// AVAILABLE even though the stored status is still HELD.
func (r SeatRecord) EffectiveStatus(now time.Time) SeatStatus {
	if r.Expired(now) {
		return SeatAvailable
	}
	return r.Status
}

func (r SeatRecord) HeldBy(token string) bool {
	return r.Status == SeatHeld && token != "" && r.HolderToken == token
}

func (r SeatRecord) SoldTo(token string) bool {
	return r.Status == SeatSold && token != "" && r.HolderToken == token
}

// LostBy reports whether token held the seat until its hold expired and was
// taken away.
func (r SeatRecord) LostBy(token string) bool {
	return token != "" && r.DisplacedToken == token && r.HolderToken != token
}

// Transition is the argument of a compare-and-transition write. It applies only
// when the stored record still has ExpectedVersion and ExpectedStatus.
type Transition struct {
	EventID         string
	SeatID          string
	ExpectedVersion int64
	ExpectedStatus  SeatStatus
	NewStatus       SeatStatus
	HolderToken     string
	HeldUntil       time.Time
	TicketID        string
	TicketType      string
	At              time.Time
	// DisplacedToken is set when the transition ends someone else's expired hold.
	DisplacedToken string
}

// CanTransition lists the legal edges of the seat state machine. HELD to HELD
// is the steal of an expired hold. SOLD has no outgoing edge.
func CanTransition(from, to SeatStatus) bool {
	switch from {
	case SeatAvailable:
		return to == SeatHeld
	case SeatHeld:
		return to == SeatHeld || to == SeatSold || to == SeatAvailable
	}
	return false
}

func (t Transition) Validate() error {
	if strings.TrimSpace(t.EventID) == "" || strings.TrimSpace(t.SeatID) == "" {
		return Invalid("transition requires event and seat")
	}
	if t.ExpectedVersion < 0 {
		return Invalid("expected version must not be negative")
	}
	if !CanTransition(t.ExpectedStatus, t.NewStatus) {
		return Invalid("illegal seat transition %s -> %s", t.ExpectedStatus, t.NewStatus)
	}
	switch t.NewStatus {
	case SeatHeld:
		if t.HolderToken == "" || t.HeldUntil.IsZero() {
			return Invalid("hold requires holder token and expiry")
		}
	case SeatSold:
		if t.HolderToken == "" || t.TicketID == "" {
			return Invalid("sale requires holder token and ticket id")
		}
	}
	return nil
}

// Matches reports whether rec is in the state the transition expects.
func (t Transition) Matches(rec SeatRecord) bool {
	return rec.Version == t.ExpectedVersion && rec.Status == t.ExpectedStatus
}

// Apply returns rec after the transition. The caller must have checked Matches
// under whatever makes the write atomic.
func (t Transition) Apply(rec SeatRecord) SeatRecord {
	rec.Status = t.NewStatus
	rec.Version++
	rec.UpdatedAt = t.At
	if t.DisplacedToken != "" {
		rec.DisplacedToken = t.DisplacedToken
	}
	switch t.NewStatus {
	case SeatAvailable:
		rec.HolderToken = ""
		rec.HeldUntil = time.Time{}
		rec.TicketID = ""
		rec.TicketType = ""
	case SeatHeld:
		rec.HolderToken = t.HolderToken
		rec.HeldUntil = t.HeldUntil
		rec.TicketID = ""
		rec.TicketType = t.TicketType
	case SeatSold:
		rec.HolderToken = t.HolderToken
		rec.HeldUntil = time.Time{}
		rec.TicketID = t.TicketID
		rec.TicketType = t.TicketType
	}
	return rec
}

// AppliedTo reports whether rec is exactly the result of this transition. Used
// to find out if a write whose acknowledgement was lost actually landed.
func (t Transition) AppliedTo(rec SeatRecord) bool {
	if rec.Version != t.ExpectedVersion+1 || rec.Status != t.NewStatus {
		return false
	}
	switch t.NewStatus {
	case SeatSold:
		return rec.HolderToken == t.HolderToken && rec.TicketID == t.TicketID
	case SeatHeld:
		return rec.HolderToken == t.HolderToken
	}
	return true
}

// ClaimRequest is one caller's attempt to hold a seat.
type ClaimRequest struct {
	EventID        string
	Sector         string
	SeatID         string
	RequesterToken string
	TicketType     string
}

func (c ClaimRequest) Validate() error {
	switch {
	case strings.TrimSpace(c.EventID) == "":
		return Invalid("event_id is required")
	case strings.TrimSpace(c.SeatID) == "":
		return Invalid("seat_id is required")
	case strings.TrimSpace(c.RequesterToken) == "":
		return Invalid("requester_token is required")
	}
	return nil
}

type HoldToken struct {
	EventID   string
	SeatID    string
	Sector    string
	Token     string
	Version   int64
	ExpiresAt time.Time
}

type Ticket struct {
	TicketID    string
	EventID     string
	SeatID      string
	HolderToken string
	TicketType  string
	Version     int64
}

// SeatEvent is published for every committed transition.
type SeatEvent struct {
	EventID     string     `json:"event_id" bson:"event_id"`
	SeatID      string     `json:"seat_id" bson:"seat_id"`
	Status      SeatStatus `json:"status" bson:"status"`
	HolderToken string     `json:"holder_token,omitempty" bson:"holder_token,omitempty"`
	TicketID    string     `json:"ticket_id,omitempty" bson:"ticket_id,omitempty"`
	TicketType  string     `json:"ticket_type,omitempty" bson:"ticket_type,omitempty"`
	Version     int64      `json:"version" bson:"version"`
	OccurredAt  time.Time  `json:"occurred_at" bson:"occurred_at"`
}

func NewSeatEvent(rec SeatRecord) SeatEvent {
	return SeatEvent{
		EventID:     rec.EventID,
		SeatID:      rec.SeatID,
		Status:      rec.Status,
		HolderToken: rec.HolderToken,
		TicketID:    rec.TicketID,
		TicketType:  rec.TicketType,
		Version:     rec.Version,
		OccurredAt:  rec.UpdatedAt,
	}
}

// RoutingKey is the broker topic of the event, e.g. "seat.sold".
func (e SeatEvent) RoutingKey() string {
	return "seat." + strings.ToLower(string(e.Status))
}

// DedupeKey identifies the transition uniquely: a seat never has two records
// with the same version.
func (e SeatEvent) DedupeKey() string {
	return e.EventID + ":" + e.SeatID + ":" + strconv.FormatInt(e.Version, 10)
}
