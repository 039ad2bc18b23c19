package domain

import (
	"fmt"
	"strings"
	"time"
)

type Sector struct {
	ID    string   `json:"id" bson:"id"`
	Label string   `json:"label" bson:"label"`
	Seats []string `json:"seats" bson:"seats"`
}

// SeatingChart is the immutable geometry of a venue layout. Structural changes
// get a new chart id.
type SeatingChart struct {
	ID      string   `json:"id" bson:"_id"`
	Name    string   `json:"name" bson:"name"`
	Sectors []Sector `json:"sectors" bson:"sectors"`

	seatSector map[string]string
}

// NewSeatingChart validates the layout and indexes its seats.
func NewSeatingChart(id, name string, sectors []Sector) (*SeatingChart, error) {
	c := &SeatingChart{ID: id, Name: name, Sectors: sectors}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

func (c *SeatingChart) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return Invalid("chart id is required")
	}
	if len(c.Sectors) == 0 {
		return Invalid("chart %s has no sectors", c.ID)
	}
	sectors := make(map[string]struct{}, len(c.Sectors))
	seats := make(map[string]string)
	for _, s := range c.Sectors {
		if strings.TrimSpace(s.ID) == "" {
			return Invalid("chart %s has a sector without id", c.ID)
		}
		if _, dup := sectors[s.ID]; dup {
			return Invalid("chart %s: duplicate sector %s", c.ID, s.ID)
		}
		sectors[s.ID] = struct{}{}
		if len(s.Seats) == 0 {
			return Invalid("chart %s: sector %s has no seats", c.ID, s.ID)
		}
		for _, seat := range s.Seats {
			if strings.TrimSpace(seat) == "" {
				return Invalid("chart %s: sector %s has an empty seat id", c.ID, s.ID)
			}
			if other, dup := seats[seat]; dup {
				return Invalid("chart %s: seat %s appears in sectors %s and %s", c.ID, seat, other, s.ID)
			}
			seats[seat] = s.ID
		}
	}
	return nil
}

func (c *SeatingChart) index() {
	idx := make(map[string]string)
	for _, s := range c.Sectors {
		for _, seat := range s.Seats {
			idx[seat] = s.ID
		}
	}
	c.seatSector = idx
}

// Indexed returns c with its seat index built. Charts decoded from storage come
// without one.
func (c *SeatingChart) Indexed() *SeatingChart {
	if c.seatSector == nil {
		c.index()
	}
	return c
}

// SectorOf returns the sector holding seatID.
func (c *SeatingChart) SectorOf(seatID string) (string, bool) {
	if c.seatSector != nil {
		s, ok := c.seatSector[seatID]
		return s, ok
	}
	for _, s := range c.Sectors {
		for _, seat := range s.Seats {
			if seat == seatID {
				return s.ID, true
			}
		}
	}
	return "", false
}

func (c *SeatingChart) HasSeat(seatID string) bool {
	_, ok := c.SectorOf(seatID)
	return ok
}

func (c *SeatingChart) Sector(id string) (Sector, bool) {
	for _, s := range c.Sectors {
		if s.ID == id {
			return s, true
		}
	}
	return Sector{}, false
}

func (c *SeatingChart) SectorIDs() []string {
	ids := make([]string, len(c.Sectors))
	for i, s := range c.Sectors {
		ids[i] = s.ID
	}
	return ids
}

func (c *SeatingChart) SeatCount() int {
	n := 0
	for _, s := range c.Sectors {
		n += len(s.Seats)
	}
	return n
}

// GridSector lays out rows*perRow seats named R{row}S{seat}, both 1-based.
func GridSector(id, label string, rows, perRow int) Sector {
	seats := make([]string, 0, rows*perRow)
	for r := 1; r <= rows; r++ {
		for s := 1; s <= perRow; s++ {
			seats = append(seats, fmt.Sprintf("R%dS%d", r, s))
		}
	}
	return Sector{ID: id, Label: label, Seats: seats}
}

// Event borrows a chart; it does not own it.
type Event struct {
	ID      string    `json:"id" bson:"_id"`
	ChartID string    `json:"chart_id" bson:"chart_id"`
	Name    string    `json:"name" bson:"name"`
	Date    time.Time `json:"date" bson:"date"`
	Type    string    `json:"type" bson:"type"`
}

func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return Invalid("event id is required")
	case strings.TrimSpace(e.ChartID) == "":
		return Invalid("event %s: chart id is required", e.ID)
	case strings.TrimSpace(e.Name) == "":
		return Invalid("event %s: name is required", e.ID)
	case e.Date.IsZero():
		return Invalid("event %s: date is required", e.ID)
	}
	return nil
}
