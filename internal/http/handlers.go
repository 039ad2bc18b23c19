package http

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/seat-booking/internal/availability"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
)

type Booking interface {
	Hold(ctx context.Context, req domain.ClaimRequest, ttl time.Duration) (domain.HoldToken, error)
	Confirm(ctx context.Context, eventID, seatID, holderToken string) (domain.Ticket, error)
	Release(ctx context.Context, eventID, seatID, holderToken string) error
}

type Availability interface {
	SectorView(ctx context.Context, eventID, sector string) (availability.SectorView, error)
	EventAvailability(ctx context.Context, eventID string) ([]availability.SectorView, error)
}

type Charts interface {
	CreateChart(ctx context.Context, id, name string, sectors []domain.Sector) (*domain.SeatingChart, error)
	GetChart(ctx context.Context, chartID string) (*domain.SeatingChart, error)
	ListCharts(ctx context.Context) ([]*domain.SeatingChart, error)
	CreateEvent(ctx context.Context, ev domain.Event) (domain.Event, error)
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

type Handlers struct {
	booking  Booking
	avail    Availability
	charts   Charts
	checks   map[string]Check
	logger   observability.Logger
	validate *validator.Validate
}

func NewHandlers(booking Booking, avail Availability, charts Charts, logger observability.Logger, checks map[string]Check) *Handlers {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handlers{
		booking:  booking,
		avail:    avail,
		charts:   charts,
		checks:   checks,
		logger:   logger,
		validate: v,
	}
}

type holdRequest struct {
	Sector         string `json:"sector" validate:"required,max=64"`
	RequesterToken string `json:"requester_token" validate:"required,max=128"`
	TicketType     string `json:"ticket_type" validate:"omitempty,max=64"`
	TTLSeconds     int    `json:"ttl_seconds" validate:"gte=0,lte=86400"`
}

type holdResponse struct {
	EventID     string    `json:"event_id"`
	SeatID      string    `json:"seat_id"`
	Sector      string    `json:"sector"`
	HolderToken string    `json:"holder_token"`
	Version     int64     `json:"version"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type holderRequest struct {
	HolderToken string `json:"holder_token" validate:"required,max=128"`
}

type ticketResponse struct {
	TicketID    string `json:"ticket_id"`
	EventID     string `json:"event_id"`
	SeatID      string `json:"seat_id"`
	HolderToken string `json:"holder_token"`
	TicketType  string `json:"ticket_type,omitempty"`
	Version     int64  `json:"version"`
}

type sectorRequest struct {
	ID     string   `json:"id" validate:"required,max=64"`
	Label  string   `json:"label" validate:"omitempty,max=128"`
	Seats  []string `json:"seats" validate:"required_without=Rows,dive,required"`
	Rows   int      `json:"rows" validate:"gte=0,lte=500"`
	PerRow int      `json:"per_row" validate:"required_with=Rows,gte=0,lte=500"`
}

type chartRequest struct {
	ID      string          `json:"id" validate:"omitempty,max=64"`
	Name    string          `json:"name" validate:"required,max=128"`
	Sectors []sectorRequest `json:"sectors" validate:"required,min=1,dive"`
}

type eventRequest struct {
	ID      string    `json:"id" validate:"omitempty,max=64"`
	ChartID string    `json:"chart_id" validate:"required"`
	Name    string    `json:"name" validate:"required,max=128"`
	Date    time.Time `json:"date" validate:"required"`
	Type    string    `json:"type" validate:"omitempty,max=64"`
}

type eventAvailabilityResponse struct {
	EventID string                    `json:"event_id"`
	Sectors []availability.SectorView `json:"sectors"`
}

func (h *Handlers) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidRequest(err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return invalidRequest(err)
	}
	return nil
}

func (h *Handlers) HoldSeat(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	claim := domain.ClaimRequest{
		EventID:        chi.URLParam(r, "eventID"),
		Sector:         req.Sector,
		SeatID:         chi.URLParam(r, "seatID"),
		RequesterToken: scopedToken(r.Context(), req.RequesterToken),
		TicketType:     req.TicketType,
	}
	tok, err := h.booking.Hold(r.Context(), claim, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, holdResponse{
		EventID:     tok.EventID,
		SeatID:      tok.SeatID,
		Sector:      tok.Sector,
		HolderToken: req.RequesterToken,
		Version:     tok.Version,
		ExpiresAt:   tok.ExpiresAt,
	})
}

func (h *Handlers) ConfirmSeat(w http.ResponseWriter, r *http.Request) {
	var req holderRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ticket, err := h.booking.Confirm(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "seatID"), scopedToken(r.Context(), req.HolderToken))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{
		TicketID:    ticket.TicketID,
		EventID:     ticket.EventID,
		SeatID:      ticket.SeatID,
		HolderToken: req.HolderToken,
		TicketType:  ticket.TicketType,
		Version:     ticket.Version,
	})
}

func (h *Handlers) ReleaseSeat(w http.ResponseWriter, r *http.Request) {
	var req holderRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.booking.Release(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "seatID"), scopedToken(r.Context(), req.HolderToken))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SectorAvailability(w http.ResponseWriter, r *http.Request) {
	view, err := h.avail.SectorView(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "sector"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) EventAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	views, err := h.avail.EventAvailability(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventAvailabilityResponse{EventID: eventID, Sectors: views})
}

func (h *Handlers) CreateChart(w http.ResponseWriter, r *http.Request) {
	var req chartRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sectors := make([]domain.Sector, 0, len(req.Sectors))
	for _, s := range req.Sectors {
		if len(s.Seats) == 0 {
			sectors = append(sectors, domain.GridSector(s.ID, s.Label, s.Rows, s.PerRow))
			continue
		}
		sectors = append(sectors, domain.Sector{ID: s.ID, Label: s.Label, Seats: s.Seats})
	}

	chart, err := h.charts.CreateChart(r.Context(), req.ID, req.Name, sectors)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chart)
}

func (h *Handlers) GetChart(w http.ResponseWriter, r *http.Request) {
	chart, err := h.charts.GetChart(r.Context(), chi.URLParam(r, "chartID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (h *Handlers) ListCharts(w http.ResponseWriter, r *http.Request) {
	charts, err := h.charts.ListCharts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if charts == nil {
		charts = []*domain.SeatingChart{}
	}
	writeJSON(w, http.StatusOK, charts)
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ev, err := h.charts.CreateEvent(r.Context(), domain.Event{
		ID:      req.ID,
		ChartID: req.ChartID,
		Name:    req.Name,
		Date:    req.Date.UTC(),
		Type:    req.Type,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.charts.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.charts.ListEvents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("readiness check failed")
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
