package refrange

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/echovet/echovet/internal/platform/fhir"
	"github.com/echovet/echovet/internal/platform/openapi"
	"github.com/echovet/echovet/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	api.GET("/parameters", h.ListParameters)
	api.GET("/reference-tables/:species", h.GetTable)
	api.GET("/reference-tables/:species/range", h.GetRange)
	api.GET("/reference-tables/:species/export", h.ExportTable)
	api.PUT("/reference-tables/:species", h.ReplaceTable)
	api.DELETE("/reference-tables/:species", h.ResetTable)
	api.POST("/interpretations", h.Interpret)

	fhirGroup.POST("/Observation/$interpret", h.InterpretFHIR)
}

// Document describes the routes of RegisterRoutes to g. prefix and fhirPrefix
// are the mount points of the two groups.
func (h *Handler) Document(g *openapi.Generator, prefix, fhirPrefix string) {
	const tag = "reference-ranges"
	g.Document(http.MethodGet, prefix+"/parameters", openapi.Operation{
		Summary: "List the parameters of a species", Tag: tag, Query: []string{"species"},
	})
	g.Document(http.MethodGet, prefix+"/reference-tables/:species", openapi.Operation{
		Summary: "Get the current reference table", Tag: tag, Query: []string{"_count", "_offset"},
	})
	g.Document(http.MethodGet, prefix+"/reference-tables/:species/range", openapi.Operation{
		Summary: "Normal range of a parameter at a body weight", Tag: tag, Query: []string{"parameter", "weight"},
		Response: "Bounds",
	})
	g.Document(http.MethodGet, prefix+"/reference-tables/:species/export", openapi.Operation{
		Summary: "Export the current reference table as CSV", Tag: tag,
	})
	g.Document(http.MethodPut, prefix+"/reference-tables/:species", openapi.Operation{
		Summary: "Replace the stored reference table (JSON rows or text/csv)", Tag: tag,
	})
	g.Document(http.MethodDelete, prefix+"/reference-tables/:species", openapi.Operation{
		Summary: "Reset to the built-in reference table", Tag: tag, Status: http.StatusNoContent,
	})
	g.Document(http.MethodPost, prefix+"/interpretations", openapi.Operation{
		Summary: "Interpret the measurements of a study", Tag: "interpretation", RequestBody: "Study",
	})
	g.Document(http.MethodPost, fhirPrefix+"/Observation/$interpret", openapi.Operation{
		Summary: "Interpret a study as FHIR Observations", Tag: "fhir", RequestBody: "Study", Response: "Bundle",
	})
}

// boundsDTO is Bounds with undefined edges encoded as null.
type boundsDTO struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type rowDTO struct {
	Weight float64              `json:"weight"`
	Ranges map[string]boundsDTO `json:"ranges"`
}

type tableResponse struct {
	Species   Species              `json:"species"`
	Source    TableSource          `json:"source"`
	LoadedAt  time.Time            `json:"loaded_at"`
	Columns   []string             `json:"columns"`
	// Weight axis bounds; lookups outside them take the edge row.
	MinWeight float64              `json:"min_weight"`
	MaxWeight float64              `json:"max_weight"`
	Rows      *pagination.Response `json:"rows"`
}

type rangeResponse struct {
	Species   Species  `json:"species"`
	Parameter string   `json:"parameter"`
	Weight    float64  `json:"weight"`
	Available bool     `json:"available"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

type replaceRequest struct {
	Rows []map[string]interface{} `json:"rows"`
}

type replaceResponse struct {
	Species Species     `json:"species"`
	Source  TableSource `json:"source"`
	Rows    int         `json:"rows"`
	Columns []string    `json:"columns"`
}

type interpretRequest struct {
	Species      string             `json:"species"`
	Weight       float64            `json:"weight"`
	Measurements map[string]float64 `json:"measurements"`
}

type interpretResponse struct {
	Species Species  `json:"species"`
	Weight  float64  `json:"weight"`
	Results []Result `json:"results"`
}

func toRowDTO(r Row) rowDTO {
	ranges := make(map[string]boundsDTO, len(r.Ranges))
	for k, b := range r.Ranges {
		ranges[k] = boundsDTO{Min: nullable(b.Min), Max: nullable(b.Max)}
	}
	return rowDTO{Weight: r.Weight, Ranges: ranges}
}

func parseSpeciesParam(c echo.Context) (Species, error) {
	sp, err := ParseSpecies(c.Param("species"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return sp, nil
}

func (h *Handler) ListParameters(c echo.Context) error {
	sp, err := ParseSpecies(c.QueryParam("species"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params, err := h.svc.Parameters(sp)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, params)
}

func (h *Handler) GetTable(c echo.Context) error {
	sp, err := parseSpeciesParam(c)
	if err != nil {
		return err
	}
	table, err := h.svc.Table(c.Request().Context(), sp)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	pg := pagination.FromContext(c)
	start, end := pg.Window(len(table.Rows))
	rows := make([]rowDTO, 0, end-start)
	for _, r := range table.Rows[start:end] {
		rows = append(rows, toRowDTO(r))
	}
	resp := tableResponse{
		Species:  table.Species,
		Source:   table.Source,
		LoadedAt: table.LoadedAt,
		Columns:  table.RefKeys(),
		Rows:     pagination.NewResponse(rows, len(table.Rows), pg.Limit, pg.Offset),
	}
	if ws := table.Weights(); len(ws) > 0 {
		resp.MinWeight, resp.MaxWeight = ws[0], ws[len(ws)-1]
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetRange(c echo.Context) error {
	sp, err := parseSpeciesParam(c)
	if err != nil {
		return err
	}
	param := c.QueryParam("parameter")
	if param == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "parameter is required")
	}
	if !h.svc.Registry().Known(param) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown parameter %q", param))
	}
	weight, err := strconv.ParseFloat(c.QueryParam("weight"), 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid weight")
	}

	b, ok, err := h.svc.LookupRange(c.Request().Context(), sp, param, weight)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := rangeResponse{Species: sp, Parameter: param, Weight: weight, Available: ok}
	if ok {
		resp.Min, resp.Max = nullable(b.Min), nullable(b.Max)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ExportTable(c echo.Context) error {
	sp, err := parseSpeciesParam(c)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", string(sp)+".csv"))
	res.WriteHeader(http.StatusOK)
	return h.svc.ExportCSV(c.Request().Context(), sp, res)
}

// ReplaceTable accepts either a text/csv body or JSON {"rows": [...]} where
// each row maps column names to numbers or strings.
func (h *Handler) ReplaceTable(c echo.Context) error {
	sp, err := parseSpeciesParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var table *ReferenceTable
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), "text/csv") {
		table, err = h.svc.ImportCSV(ctx, sp, c.Request().Body)
	} else {
		var req replaceRequest
		if bindErr := c.Bind(&req); bindErr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, bindErr.Error())
		}
		table, err = h.svc.ReplaceTable(ctx, sp, rawRowsFromJSON(req.Rows))
	}
	if err != nil {
		return replaceError(err)
	}
	return c.JSON(http.StatusOK, replaceResponse{
		Species: table.Species,
		Source:  table.Source,
		Rows:    len(table.Rows),
		Columns: table.RefKeys(),
	})
}

func replaceError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyTable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUnknownSpecies), errors.Is(err, ErrInvalidCSV):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func rawRowsFromJSON(rows []map[string]interface{}) []RawRow {
	out := make([]RawRow, 0, len(rows))
	for _, r := range rows {
		raw := make(RawRow, len(r))
		for k, v := range r {
			switch val := v.(type) {
			case float64:
				raw[k] = formatNumber(val)
			case string:
				raw[k] = val
			case nil:
				raw[k] = ""
			default:
				raw[k] = fmt.Sprint(val)
			}
		}
		out = append(out, raw)
	}
	return out
}

func (h *Handler) ResetTable(c echo.Context) error {
	sp, err := parseSpeciesParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.ResetTable(c.Request().Context(), sp); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) bindStudy(c echo.Context) (Study, error) {
	var req interpretRequest
	if err := c.Bind(&req); err != nil {
		return Study{}, err
	}
	sp, err := ParseSpecies(req.Species)
	if err != nil {
		return Study{}, err
	}
	if len(req.Measurements) == 0 {
		return Study{}, errors.New("measurements are required")
	}
	return Study{Species: sp, Weight: req.Weight, Measurements: req.Measurements}, nil
}

func (h *Handler) Interpret(c echo.Context) error {
	study, err := h.bindStudy(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.svc.InterpretStudy(c.Request().Context(), study)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, interpretResponse{Species: study.Species, Weight: study.Weight, Results: results})
}

func (h *Handler) InterpretFHIR(c echo.Context) error {
	study, err := h.bindStudy(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	results, err := h.svc.InterpretStudy(c.Request().Context(), study)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	resources := make([]interface{}, len(results))
	for i, r := range results {
		resources[i] = ToFHIRObservation(r, study.Species)
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, len(resources), c.Request().URL.Path))
}
