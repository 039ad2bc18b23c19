package domain

import (
	"time"
)

// NewHoldTransition claims rec for the requester until now+ttl. rec may be
// AVAILABLE or an expired HELD record being taken over.
func NewHoldTransition(rec SeatRecord, req ClaimRequest, now time.Time, ttl time.Duration) Transition {
	var displaced string
	if rec.Status == SeatHeld && rec.HolderToken != req.RequesterToken {
		displaced = rec.HolderToken
	}
	return Transition{
		EventID:         rec.EventID,
		SeatID:          rec.SeatID,
		ExpectedVersion: rec.Version,
		ExpectedStatus:  rec.Status,
		NewStatus:       SeatHeld,
		HolderToken:     req.RequesterToken,
		HeldUntil:       now.Add(ttl),
		TicketType:      req.TicketType,
		At:              now,
		DisplacedToken:  displaced,
	}
}

func NewSaleTransition(rec SeatRecord, ticketID string, now time.Time) Transition {
	return Transition{
		EventID:         rec.EventID,
		SeatID:          rec.SeatID,
		ExpectedVersion: rec.Version,
		ExpectedStatus:  SeatHeld,
		NewStatus:       SeatSold,
		HolderToken:     rec.HolderToken,
		TicketID:        ticketID,
		TicketType:      rec.TicketType,
		At:              now,
	}
}

func NewReleaseTransition(rec SeatRecord, now time.Time) Transition {
	return Transition{
		EventID:         rec.EventID,
		SeatID:          rec.SeatID,
		ExpectedVersion: rec.Version,
		ExpectedStatus:  SeatHeld,
		NewStatus:       SeatAvailable,
		At:              now,
	}
}

// NewExpiryTransition releases an expired hold on behalf of the system. The
// former holder is remembered so its late confirm reports the expiry.
func NewExpiryTransition(rec SeatRecord, now time.Time) Transition {
	tr := NewReleaseTransition(rec, now)
	tr.DisplacedToken = rec.HolderToken
	return tr
}

func NewHoldToken(rec SeatRecord, sector string) HoldToken {
	return HoldToken{
		EventID:   rec.EventID,
		SeatID:    rec.SeatID,
		Sector:    sector,
		Token:     rec.HolderToken,
		Version:   rec.Version,
		ExpiresAt: rec.HeldUntil,
	}
}

func NewTicket(rec SeatRecord) Ticket {
	return Ticket{
		TicketID:    rec.TicketID,
		EventID:     rec.EventID,
		SeatID:      rec.SeatID,
		HolderToken: rec.HolderToken,
		TicketType:  rec.TicketType,
		Version:     rec.Version,
	}
}
