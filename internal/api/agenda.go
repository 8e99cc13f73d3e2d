package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tenantapi/internal/apperr"
	"tenantapi/internal/model"
	"tenantapi/internal/storage"
)

type agendaCreateRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type agendaUpdateRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type agendaItemCreateRequest struct {
	Title        string           `json:"title" validate:"required,max=200"`
	Description  *string          `json:"description" validate:"omitempty,max=1000"`
	StartTime    model.TimeOfDay  `json:"start_time"`
	EndTime      *model.TimeOfDay `json:"end_time"`
	Location     *string          `json:"location" validate:"omitempty,max=200"`
	Type         string           `json:"type" validate:"required,oneof=ceremony reception entertainment speech meal break photo_session other"`
	DisplayOrder *int             `json:"display_order" validate:"omitempty,gte=1"`
	IsImportant  *bool            `json:"is_important"`
}

type agendaItemUpdateRequest struct {
	Title        *string          `json:"title" validate:"omitempty,max=200"`
	Description  *string          `json:"description" validate:"omitempty,max=1000"`
	StartTime    *model.TimeOfDay `json:"start_time"`
	EndTime      *model.TimeOfDay `json:"end_time"`
	Location     *string          `json:"location" validate:"omitempty,max=200"`
	Type         *string          `json:"type" validate:"omitempty,oneof=ceremony reception entertainment speech meal break photo_session other"`
	DisplayOrder *int             `json:"display_order" validate:"omitempty,gte=1"`
	IsImportant  *bool            `json:"is_important"`
}

type reorderRequest struct {
	Items []model.ReorderItem `json:"items" validate:"required,min=1,dive"`
}

type agendaResponse struct {
	Agenda *model.Agenda `json:"agenda"`
}

type agendaItemResponse struct {
	Item *model.AgendaItem `json:"item"`
}

// authorizeEvent checks that the event exists and belongs to the caller.
// A missing event reads as 404; someone else's event as 403.
func (a *EventsAPI) authorizeEvent(r *http.Request, eventID string) error {
	owner, err := a.store.GetEventOwner(r.Context(), dbFrom(r.Context()), eventID)
	if err != nil {
		return apperr.Infra(err)
	}
	if owner == "" {
		return apperr.NotFoundf("Event with ID '%s' not found.", eventID)
	}
	if owner != ownerFrom(r.Context()) {
		return apperr.Permissionf("You do not have access to event '%s'.", eventID)
	}
	return nil
}

func (a *EventsAPI) getAgenda(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	agenda, err := a.store.GetAgendaByEvent(r.Context(), dbFrom(r.Context()), eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'.", eventID))
		return
	}
	respondJSON(w, http.StatusOK, agendaResponse{Agenda: agenda})
}

func (a *EventsAPI) createAgenda(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	var req agendaCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	title := a.agendaTitle
	if req.Title != nil && *req.Title != "" {
		title = *req.Title
	}
	agenda := &model.Agenda{
		EventID:     eventID,
		Title:       title,
		Description: req.Description,
		Items:       []model.AgendaItem{},
	}
	if err := a.store.CreateAgenda(r.Context(), dbFrom(r.Context()), agenda); err != nil {
		if errors.Is(err, storage.ErrDuplicateAgenda) {
			respondError(a.log, w, r, apperr.Conflictf("Agenda already exists for this event."))
			return
		}
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusCreated, agendaResponse{Agenda: agenda})
}

func (a *EventsAPI) updateAgenda(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	var req agendaUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	agenda, err := a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'.", eventID))
		return
	}

	patch := model.AgendaPatch{Title: req.Title, Description: req.Description}
	if err := a.store.UpdateAgenda(r.Context(), db, agenda.ID, patch); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	agenda, err = a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, agendaResponse{Agenda: agenda})
}

func (a *EventsAPI) deleteAgenda(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	agenda, err := a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'.", eventID))
		return
	}
	if err := a.store.DeleteAgenda(r.Context(), db, agenda.ID); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *EventsAPI) createAgendaItem(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	var req agendaItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if req.StartTime.IsZero() {
		respondError(a.log, w, r, apperr.Validationf("start_time must not be empty."))
		return
	}
	if req.EndTime != nil && !req.EndTime.After(req.StartTime) {
		respondError(a.log, w, r, apperr.Validationf("end_time must be after start_time."))
		return
	}

	db := dbFrom(r.Context())
	agenda, err := a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'. Create the agenda first.", eventID))
		return
	}

	item := &model.AgendaItem{
		AgendaID:    agenda.ID,
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Location:    req.Location,
		Type:        req.Type,
	}
	if req.DisplayOrder != nil {
		item.DisplayOrder = *req.DisplayOrder
	}
	if req.IsImportant != nil {
		item.IsImportant = *req.IsImportant
	}
	if err := a.store.CreateItem(r.Context(), db, item, req.DisplayOrder == nil); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusCreated, agendaItemResponse{Item: item})
}

func (a *EventsAPI) updateAgendaItem(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	itemID := chi.URLParam(r, "item_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	var req agendaItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	agenda, err := a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'.", eventID))
		return
	}
	item, err := a.store.GetItem(r.Context(), db, itemID, agenda.ID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if item == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda item with ID '%s' not found.", itemID))
		return
	}

	// Validate the time window against the merged state, so changing
	// only one bound still catches an inverted interval.
	start := item.StartTime
	if req.StartTime != nil {
		start = *req.StartTime
	}
	end := item.EndTime
	if req.EndTime != nil {
		end = req.EndTime
	}
	if end != nil && !end.After(start) {
		respondError(a.log, w, r, apperr.Validationf("end_time must be after start_time."))
		return
	}

	patch := model.AgendaItemPatch{
		Title:        req.Title,
		Description:  req.Description,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Location:     req.Location,
		Type:         req.Type,
		DisplayOrder: req.DisplayOrder,
		IsImportant:  req.IsImportant,
	}
	if err := a.store.UpdateItem(r.Context(), db, itemID, patch); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	item, err = a.store.GetItem(r.Context(), db, itemID, agenda.ID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, agendaItemResponse{Item: item})
}

func (a *EventsAPI) deleteAgendaItem(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	itemID := chi.URLParam(r, "item_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	agenda, err := a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'.", eventID))
		return
	}
	item, err := a.store.GetItem(r.Context(), db, itemID, agenda.ID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if item == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda item with ID '%s' not found.", itemID))
		return
	}
	if err := a.store.DeleteItem(r.Context(), db, itemID); err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *EventsAPI) reorderAgendaItems(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")
	if err := a.authorizeEvent(r, eventID); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}
	if err := checkStruct(a.validate, &req); err != nil {
		respondError(a.log, w, r, err)
		return
	}

	db := dbFrom(r.Context())
	agenda, err := a.store.GetAgendaByEvent(r.Context(), db, eventID)
	if err != nil {
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	if agenda == nil {
		respondError(a.log, w, r, apperr.NotFoundf("Agenda not found for event '%s'.", eventID))
		return
	}

	if err := a.store.Reorder(r.Context(), db, agenda.ID, req.Items); err != nil {
		if errors.Is(err, storage.ErrItemsNotInAgenda) {
			respondError(a.log, w, r, apperr.BadRequestf("One or more items do not belong to this agenda."))
			return
		}
		respondError(a.log, w, r, apperr.Infra(err))
		return
	}
	respondJSON(w, http.StatusOK, detailResponse{Detail: "Agenda items reordered successfully"})
}
