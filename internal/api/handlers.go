package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ewyt/proximity-pipeline/internal/domain"
	"github.com/ewyt/proximity-pipeline/internal/repository/postgres"
	"github.com/ewyt/proximity-pipeline/internal/storage"
)

// Handlers serves the persisted pipeline tables. Reads go to Postgres when
// repositories are wired, otherwise to the CSV store, so the API works on a
// DB-less field laptop too.
type Handlers struct {
	store    *storage.Store
	triggers *postgres.TriggerRepo
	contacts *postgres.ContactRepo
}

// NewHandlers creates handlers over the CSV store.
func NewHandlers(store *storage.Store) *Handlers {
	return &Handlers{store: store}
}

// SetRepos switches reads to Postgres.
func (h *Handlers) SetRepos(triggers *postgres.TriggerRepo, contacts *postgres.ContactRepo) {
	h.triggers = triggers
	h.contacts = contacts
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListTriggers serves GET /api/triggers?animal=&logger=&limit=.
func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 1000)

	var (
		triggers []domain.Trigger
		err      error
	)
	if h.triggers != nil {
		triggers, err = h.triggers.List(r.Context(), postgres.TriggerFilter{
			AnimalID: q.Get("animal"),
			LoggerID: q.Get("logger"),
			Limit:    limit,
		})
	} else {
		triggers, err = h.store.ReadTriggers()
		if err == nil {
			triggers = filterTriggers(triggers, q.Get("animal"), q.Get("logger"), limit)
		}
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reading trigger table: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(triggers),
		"triggers": triggers,
	})
}

// ListContacts serves GET /api/contacts?animal=&location=&from=&to=&limit=.
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 1000)

	from, ok := timeParam(w, q.Get("from"))
	if !ok {
		return
	}
	to, ok := timeParam(w, q.Get("to"))
	if !ok {
		return
	}

	events, err := h.loadContacts(r, postgres.ContactFilter{
		Animal:   q.Get("animal"),
		Location: q.Get("location"),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reading contact table: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(events),
		"contacts": events,
	})
}

// ContactSummary serves GET /api/contacts/summary: trigger and contact
// totals, contacts per type and the busiest animal pairs. Against Postgres
// the aggregation runs in SQL so the table never loads into memory.
func (h *Handlers) ContactSummary(w http.ResponseWriter, r *http.Request) {
	var s summary
	var err error
	if h.contacts != nil {
		s, err = h.summaryFromDB(r)
	} else {
		s, err = h.summaryFromStore()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "building summary: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"triggers": s.triggers,
		"total":    s.total,
		"by_type":  s.byType,
		"by_pair":  s.byPair,
	})
}

type summary struct {
	triggers int
	total    int
	byType   map[domain.ContactType]int
	byPair   map[string]int
}

func (h *Handlers) summaryFromDB(r *http.Request) (summary, error) {
	ctx := r.Context()
	var s summary
	var err error

	if s.triggers, err = h.triggers.Count(ctx); err != nil {
		return s, err
	}
	if s.total, err = h.contacts.Count(ctx); err != nil {
		return s, err
	}
	if s.byType, err = h.contacts.TypeCounts(ctx); err != nil {
		return s, err
	}
	s.byPair, err = h.contacts.PairCounts(ctx, 0)
	return s, err
}

func (h *Handlers) summaryFromStore() (summary, error) {
	var s summary

	triggers, err := h.store.ReadTriggers()
	if err != nil {
		return s, err
	}
	s.triggers = len(triggers)

	events, err := h.store.ReadContacts()
	if err != nil {
		return s, err
	}
	s.total = len(events)
	s.byType = make(map[domain.ContactType]int)
	s.byPair = make(map[string]int)
	for _, e := range events {
		s.byType[e.Type]++
		s.byPair[e.AnimalA+"/"+e.AnimalB]++
	}
	return s, nil
}

func (h *Handlers) loadContacts(r *http.Request, f postgres.ContactFilter) ([]domain.ContactEvent, error) {
	if h.contacts != nil {
		return h.contacts.List(r.Context(), f)
	}
	events, err := h.store.ReadContacts()
	if err != nil {
		return nil, err
	}
	return filterContacts(events, f), nil
}

func filterTriggers(triggers []domain.Trigger, animal, logger string, limit int) []domain.Trigger {
	out := triggers[:0]
	for _, t := range triggers {
		if animal != "" && t.AnimalID != animal {
			continue
		}
		if logger != "" && t.LoggerID != logger {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}

func filterContacts(events []domain.ContactEvent, f postgres.ContactFilter) []domain.ContactEvent {
	out := events[:0]
	for _, e := range events {
		if f.Animal != "" && e.AnimalA != f.Animal && e.AnimalB != f.Animal {
			continue
		}
		if f.Location != "" && e.Location != f.Location {
			continue
		}
		if !f.From.IsZero() && e.Start.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.End.After(f.To) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func intParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func timeParam(w http.ResponseWriter, v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad time parameter, want RFC3339: "+v)
		return time.Time{}, false
	}
	return t, true
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
