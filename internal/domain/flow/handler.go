package flow

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/alemutu/patientflow/internal/platform/auth"
	"github.com/alemutu/patientflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole("receptionist", "nurse", "physician", "pharmacist", "billing")

	read := api.Group("", staff)
	read.GET("/cases/:id", h.GetCase)
	read.GET("/cases", h.ListQueue)
	read.GET("/cases/:id/history", h.History)
	read.GET("/cases/:id/claims", h.ClaimHistory)
	read.POST("/cases/:id/preview", h.PreviewNextStage)

	api.POST("/cases", h.RegisterCase, auth.RequireRole("receptionist"))
	api.PUT("/cases/:id/triage", h.RecordTriage, auth.RequireRole("nurse", "physician"))
	api.PUT("/cases/:id/consultation", h.RecordConsultation, auth.RequireRole("physician"))

	work := api.Group("", staff)
	work.POST("/cases/:id/claim", h.Claim)
	work.DELETE("/cases/:id/claim", h.Release)
	work.POST("/cases/:id/transitions", h.Transition)

	api.DELETE("/cases/:id/claim/force", h.ForceRelease, auth.RequireRole("admin"))
}

func caseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	return id, nil
}

func actorFrom(c echo.Context) (string, error) {
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	return actor, nil
}

// httpError maps engine rejections onto transport status codes. Unknown
// errors become 500s without leaking detail.
func httpError(err error) error {
	if r, ok := AsRejection(err); ok {
		status := http.StatusUnprocessableEntity
		switch r.Code {
		case RejectCaseNotFound:
			status = http.StatusNotFound
		case RejectVersionConflict, RejectAlreadyClaimed:
			status = http.StatusConflict
		case RejectNotClaimHolder:
			status = http.StatusForbidden
		case RejectInvalidTransition, RejectEmergencyCleared:
			status = http.StatusUnprocessableEntity
		}
		return echo.NewHTTPError(status, map[string]string{
			"code":   string(r.Code),
			"detail": r.Detail,
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

type registerCaseRequest struct {
	PatientID      uuid.UUID `json:"patient_id"`
	DepartmentHint *string   `json:"department_hint,omitempty"`
}

func (h *Handler) RegisterCase(c echo.Context) error {
	var req registerCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	kase, err := h.svc.RegisterCase(c.Request().Context(), req.PatientID, req.DepartmentHint)
	if err != nil {
		return httpError(err)
	}
	SetVersionHeaders(c, kase.Version, "")
	return c.JSON(http.StatusCreated, kase)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	kase, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	SetVersionHeaders(c, kase.Version, kase.UpdatedAt.UTC().Format(http.TimeFormat))
	return c.JSON(http.StatusOK, kase)
}

func (h *Handler) ListQueue(c echo.Context) error {
	stage := Stage(c.QueryParam("stage"))
	if stage == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "stage query parameter is required")
	}
	if !ValidStage(stage) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown stage")
	}
	var department *string
	if d := c.QueryParam("department"); d != "" {
		department = &d
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQueue(c.Request().Context(), stage, department, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type triageRequest struct {
	ExpectedVersion *int    `json:"expected_version,omitempty"`
	IsEmergency     *bool   `json:"is_emergency,omitempty"`
	DepartmentHint  *string `json:"department_hint,omitempty"`
}

func (h *Handler) RecordTriage(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req triageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	expected, err := expectedVersionFromRequest(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	kase, err := h.svc.RecordTriage(c.Request().Context(), id, expected, req.IsEmergency, req.DepartmentHint, actor)
	if err != nil {
		return httpError(err)
	}
	SetVersionHeaders(c, kase.Version, "")
	return c.JSON(http.StatusOK, kase)
}

type consultationRequest struct {
	ExpectedVersion *int    `json:"expected_version,omitempty"`
	ChiefComplaint  *string `json:"chief_complaint,omitempty"`
	Diagnosis       *string `json:"diagnosis,omitempty"`
	TreatmentPlan   *string `json:"treatment_plan,omitempty"`
}

func (h *Handler) RecordConsultation(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req consultationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	expected, err := expectedVersionFromRequest(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	kase, err := h.svc.RecordConsultation(c.Request().Context(), id, expected,
		req.ChiefComplaint, req.Diagnosis, req.TreatmentPlan, actor)
	if err != nil {
		return httpError(err)
	}
	SetVersionHeaders(c, kase.Version, "")
	return c.JSON(http.StatusOK, kase)
}

func (h *Handler) Claim(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Claim(c.Request().Context(), id, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Release(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if err := h.svc.Release(c.Request().Context(), id, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ForceRelease(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	if err := h.svc.ForceRelease(c.Request().Context(), id, actor); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PreviewNextStage(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var sig OrderSignals
	if err := c.Bind(&sig); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	next, err := h.svc.PreviewNextStage(c.Request().Context(), id, sig)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"next_stage": string(next)})
}

type transitionRequest struct {
	ExpectedVersion *int         `json:"expected_version,omitempty"`
	ToStage         Stage        `json:"to_stage"`
	Signals         OrderSignals `json:"signals"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ToStage == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to_stage is required")
	}
	expected, err := expectedVersionFromRequest(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	newVersion, err := h.svc.Transition(c.Request().Context(), id, expected, req.ToStage, actor, req.Signals)
	if err != nil {
		return httpError(err)
	}
	SetVersionHeaders(c, newVersion, "")
	return c.JSON(http.StatusOK, map[string]int{"new_version": newVersion})
}

func (h *Handler) History(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ClaimHistory(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ClaimHistory(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
