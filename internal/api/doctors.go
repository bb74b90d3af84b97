package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/telehealth-slot-reservation/internal/auth"
)

func (h *Handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Catalog.Doctor(r.Context(), chi.URLParam(r, "doctorId"))
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", DoctorResponse{
		ID:              doc.ID,
		Name:            doc.Name,
		Specializations: doc.Specializations,
		Modes:           doc.Modes,
		Fee:             doc.Fee,
	})
}

func (h *Handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Catalog.Doctor(r.Context(), chi.URLParam(r, "doctorId"))
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", bodyFromTemplate(doc.Availability))
}

// putAvailability replaces the weekly template. Doctors may edit only their own.
func (h *Handlers) putAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorId")
	if p := principal(r); p.Role != auth.RoleAdmin && p.Subject != doctorID {
		writeDomainError(h.Log, w, r, errForbidden)
		return
	}

	var body AvailabilityBody
	if !decodeJSON(w, r, &body) {
		return
	}
	tmpl, err := templateFromBody(body)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	if err := h.Catalog.SaveAvailability(r.Context(), doctorID, tmpl); err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "availability saved", bodyFromTemplate(tmpl))
}
