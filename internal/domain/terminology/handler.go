package terminology

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
	"github.com/ayushbridge/bridge/internal/platform/auth"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
	"github.com/ayushbridge/bridge/pkg/pagination"
)

// RetryAfterSeconds is advertised on 503 responses while no snapshot is
// loaded.
const RetryAfterSeconds = 5

// Handler provides REST endpoints for terminology services.
type Handler struct {
	svc    *Service
	limits pagination.Limits
}

// NewHandler creates a new terminology handler. limits bounds $expand and
// search paging.
func NewHandler(svc *Service, limits pagination.Limits) *Handler {
	return &Handler{svc: svc, limits: limits}
}

// RegisterRoutes registers terminology routes on the API and FHIR groups.
// Admin routes sit under api/admin behind authn and the admin role.
func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group, authn echo.MiddlewareFunc) {
	fhirGroup.GET("/CodeSystem", h.SearchCodeSystems)
	fhirGroup.GET("/CodeSystem/:id", h.ReadCodeSystem)
	fhirGroup.GET("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.POST("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.GET("/CodeSystem/$validate-code", h.ValidateCode)
	fhirGroup.POST("/CodeSystem/$validate-code", h.ValidateCode)

	fhirGroup.GET("/ConceptMap", h.SearchConceptMaps)
	fhirGroup.GET("/ConceptMap/:id", h.ReadConceptMap)
	fhirGroup.GET("/ConceptMap/$translate", h.Translate)
	fhirGroup.POST("/ConceptMap/$translate", h.Translate)
	fhirGroup.GET("/ConceptMap/:id/$translate", h.Translate)

	fhirGroup.GET("/ValueSet", h.SearchValueSets)
	fhirGroup.GET("/ValueSet/:id", h.ReadValueSet)
	fhirGroup.GET("/ValueSet/$expand", h.Expand)
	fhirGroup.POST("/ValueSet/$expand", h.Expand)
	fhirGroup.GET("/ValueSet/:id/$expand", h.Expand)

	term := api.Group("/terminology")
	term.GET("/mappings/stats", h.MappingStats)
	term.GET("/:system/search", h.Search)

	admin := api.Group("/admin", authn, auth.RequireRole(auth.RoleAdmin))
	admin.POST("/reload", h.Reload)
	admin.GET("/snapshot", h.SnapshotSummary)
	admin.POST("/cache/clear", h.ClearCache)
}

// RegisterCapabilities advertises the resources and operations served by
// RegisterRoutes in the CapabilityStatement.
func (h *Handler) RegisterCapabilities(b *fhir.CapabilityBuilder) {
	interactions := []string{"read", "search-type"}
	b.AddResource(fhir.ResourceCapability{
		Type:         "CodeSystem",
		Profile:      "http://hl7.org/fhir/StructureDefinition/CodeSystem",
		Interactions: interactions,
		SearchParams: []fhir.SearchParam{{Name: "url", Type: "uri"}},
		Operations: []fhir.OperationCapability{
			{Name: "lookup", Definition: "http://hl7.org/fhir/OperationDefinition/CodeSystem-lookup"},
			{Name: "validate-code", Definition: "http://hl7.org/fhir/OperationDefinition/CodeSystem-validate-code"},
		},
	})
	b.AddResource(fhir.ResourceCapability{
		Type:         "ConceptMap",
		Profile:      "http://hl7.org/fhir/StructureDefinition/ConceptMap",
		Interactions: interactions,
		SearchParams: []fhir.SearchParam{{Name: "source", Type: "uri"}, {Name: "target", Type: "uri"}},
		Operations: []fhir.OperationCapability{
			{Name: "translate", Definition: "http://hl7.org/fhir/OperationDefinition/ConceptMap-translate"},
		},
	})
	b.AddResource(fhir.ResourceCapability{
		Type:         "ValueSet",
		Profile:      "http://hl7.org/fhir/StructureDefinition/ValueSet",
		Interactions: interactions,
		SearchParams: []fhir.SearchParam{{Name: "url", Type: "uri"}},
		Operations: []fhir.OperationCapability{
			{Name: "expand", Definition: "http://hl7.org/fhir/OperationDefinition/ValueSet-expand"},
		},
	})
}

// fail renders err as an OperationOutcome.
func fail(c echo.Context, err error) error {
	if errors.Is(err, pagination.ErrInvalidParams) {
		err = fmt.Errorf("%v: %w", err, fhir.ErrInvalidFilter)
	}
	status, outcome := fhir.OutcomeForError(err)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	return c.JSON(status, outcome)
}

func badRequest(c echo.Context, msg string) error {
	return fail(c, fmt.Errorf("%s: %w", msg, fhir.ErrInvalidFilter))
}

// operationInput merges the query string with a POSTed Parameters body.
// Body parameters win over query parameters of the same name.
type operationInput struct {
	c      echo.Context
	params *fhir.Parameters
}

func readInput(c echo.Context) (*operationInput, error) {
	in := &operationInput{c: c}
	req := c.Request()
	if req.Method != http.MethodPost || req.ContentLength == 0 {
		return in, nil
	}
	var p fhir.Parameters
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid Parameters body: %w", fhir.ErrInvalidFilter)
	}
	if p.ResourceType != "" && p.ResourceType != "Parameters" {
		return nil, fmt.Errorf("expected a Parameters resource, got %s: %w", p.ResourceType, fhir.ErrInvalidFilter)
	}
	in.params = &p
	return in, nil
}

func parameterText(p fhir.Parameter) string {
	switch {
	case p.ValueBoolean != nil:
		return strconv.FormatBool(*p.ValueBoolean)
	case p.ValueInteger != nil:
		return strconv.Itoa(*p.ValueInteger)
	case p.ValueDecimal != nil:
		return strconv.FormatFloat(*p.ValueDecimal, 'f', -1, 64)
	}
	return p.String()
}

func (in *operationInput) get(name string) string {
	if in.params != nil {
		if p, ok := in.params.Get(name); ok {
			return parameterText(p)
		}
	}
	return in.c.QueryParam(name)
}

func (in *operationInput) all(name string) []string {
	var out []string
	if in.params != nil {
		for _, p := range in.params.Parameter {
			if p.Name == name {
				out = append(out, parameterText(p))
			}
		}
	}
	for _, v := range in.c.QueryParams()[name] {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

func (in *operationInput) flag(name string) (bool, error) {
	raw := in.get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %w", name, fhir.ErrInvalidFilter)
	}
	return v, nil
}

// systemAndCode reads system/code, or a coding parameter when present.
func (in *operationInput) systemAndCode() (system, code, version string) {
	if in.params != nil {
		if p, ok := in.params.Get("coding"); ok && p.ValueCoding != nil {
			return p.ValueCoding.System, p.ValueCoding.Code, p.ValueCoding.Version
		}
	}
	return in.get("system"), in.get("code"), in.get("version")
}

// Lookup handles GET|POST /fhir/CodeSystem/$lookup.
func (h *Handler) Lookup(c echo.Context) error {
	in, err := readInput(c)
	if err != nil {
		return fail(c, err)
	}
	system, code, version := in.systemAndCode()
	noMappings, err := in.flag("_noMappings")
	if err != nil {
		return fail(c, err)
	}
	result, err := h.svc.Lookup(c.Request().Context(), &LookupRequest{
		System:     system,
		Code:       code,
		Version:    version,
		Properties: in.all("property"),
		NoMappings: noMappings,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ValidateCode handles GET|POST /fhir/CodeSystem/$validate-code.
func (h *Handler) ValidateCode(c echo.Context) error {
	in, err := readInput(c)
	if err != nil {
		return fail(c, err)
	}
	system, code, version := in.systemAndCode()
	if system == "" {
		system = in.get("url")
	}
	result, err := h.svc.ValidateCode(c.Request().Context(), &ValidateCodeRequest{
		System:  system,
		Code:    code,
		Version: version,
		Display: in.get("display"),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Translate handles GET|POST /fhir/ConceptMap/$translate and
// GET /fhir/ConceptMap/:id/$translate.
func (h *Handler) Translate(c echo.Context) error {
	in, err := readInput(c)
	if err != nil {
		return fail(c, err)
	}
	reverse, err := in.flag("reverse")
	if err != nil {
		return fail(c, err)
	}
	system, code, _ := in.systemAndCode()
	req := conceptmap.TranslateRequest{
		System:       system,
		Code:         code,
		ConceptMap:   c.Param("id"),
		TargetSystem: in.get("targetsystem"),
		Reverse:      reverse,
	}
	if req.ConceptMap == "" {
		req.ConceptMap = in.get("url")
	}
	t, err := h.svc.Translate(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, TranslationParameters(t))
}

// Expand handles GET|POST /fhir/ValueSet/$expand and
// GET /fhir/ValueSet/:id/$expand.
func (h *Handler) Expand(c echo.Context) error {
	in, err := readInput(c)
	if err != nil {
		return fail(c, err)
	}
	page, err := pagination.FromLookup(in.get, h.limits)
	if err != nil {
		return fail(c, err)
	}
	withProps, err := in.flag("includeProperties")
	if err != nil {
		return fail(c, err)
	}
	req := valueset.ExpandRequest{
		ValueSet:          c.Param("id"),
		Filter:            strings.TrimSpace(in.get("filter")),
		System:            in.get("system"),
		Limit:             page.Limit,
		Offset:            page.Offset,
		IncludeProperties: withProps,
		PropertyNames:     in.all("property"),
	}
	if req.ValueSet == "" {
		req.ValueSet = in.get("url")
	}
	if req.ValueSet == "" {
		return badRequest(c, "url is required")
	}
	if len(req.PropertyNames) > 0 {
		req.IncludeProperties = true
	}

	result, err := h.svc.Expand(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, result.Expansion.ToFHIR(result.Definition))
}

func baseURL(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host + "/fhir"
}

// searchBundle renders one page of resources as a searchset with paging
// links that keep the caller's search parameters.
func (h *Handler) searchBundle(c echo.Context, resources []map[string]interface{}, typeURL string) error {
	page, err := pagination.FromContext(c, h.limits)
	if err != nil {
		return fail(c, err)
	}
	total := len(resources)
	var links []fhir.BundleLink
	for _, l := range page.FHIRLinks(typeURL, c.QueryParams(), total) {
		links = append(links, fhir.BundleLink{Relation: l.Relation, URL: l.URL})
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(pagination.Slice(resources, page.Offset, page.Limit), total, typeURL, links))
}

// SearchCodeSystems handles GET /fhir/CodeSystem.
func (h *Handler) SearchCodeSystems(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	url := c.QueryParam("url")
	var resources []map[string]interface{}
	for _, cs := range snap.Concepts.Systems() {
		if url != "" && cs.URL != url {
			continue
		}
		resources = append(resources, cs.ToFHIR(snap.Concepts.CountIn(cs.Canonical())))
	}
	return h.searchBundle(c, resources, baseURL(c)+"/CodeSystem")
}

// ReadCodeSystem handles GET /fhir/CodeSystem/:id.
func (h *Handler) ReadCodeSystem(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	cs, err := snap.Concepts.System(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cs.ToFHIR(snap.Concepts.CountIn(cs.Canonical())))
}

// SearchConceptMaps handles GET /fhir/ConceptMap.
func (h *Handler) SearchConceptMaps(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	canonical := func(ref string) string {
		if cs, err := snap.Concepts.System(ref); err == nil {
			return cs.URL
		}
		return ref
	}
	source, target := canonical(c.QueryParam("source")), canonical(c.QueryParam("target"))
	var resources []map[string]interface{}
	for _, cm := range snap.Maps.Maps() {
		if (source != "" && cm.SourceSystem != source) || (target != "" && cm.TargetSystem != target) {
			continue
		}
		resources = append(resources, cm.ToFHIR())
	}
	return h.searchBundle(c, resources, baseURL(c)+"/ConceptMap")
}

// ReadConceptMap handles GET /fhir/ConceptMap/:id.
func (h *Handler) ReadConceptMap(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	cm, err := snap.Maps.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, cm.ToFHIR())
}

// SearchValueSets handles GET /fhir/ValueSet.
func (h *Handler) SearchValueSets(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	url := c.QueryParam("url")
	var resources []map[string]interface{}
	for _, def := range snap.ValueSets.Definitions() {
		if url != "" && def.URL != url {
			continue
		}
		resources = append(resources, def.ToFHIR())
	}
	return h.searchBundle(c, resources, baseURL(c)+"/ValueSet")
}

// ReadValueSet handles GET /fhir/ValueSet/:id.
func (h *Handler) ReadValueSet(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	def, err := snap.ValueSets.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, def.ToFHIR())
}

// Search handles GET /api/v1/terminology/:system/search?q=...
func (h *Handler) Search(c echo.Context) error {
	page, err := pagination.FromContext(c, h.limits)
	if err != nil {
		return fail(c, err)
	}
	result, err := h.svc.Search(c.Request().Context(), c.Param("system"), strings.TrimSpace(c.QueryParam("q")), page.Limit, page.Offset)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(result.Concepts, result.Total, page.Limit, page.Offset))
}

// MappingStats handles GET /api/v1/terminology/mappings/stats.
func (h *Handler) MappingStats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Reload handles POST /api/v1/admin/reload.
func (h *Handler) Reload(c echo.Context) error {
	sum, err := h.svc.Reload(c.Request().Context())
	if err != nil {
		if status, _ := fhir.OutcomeForError(err); status != http.StatusInternalServerError {
			return fail(c, err)
		}
		// The active snapshot stays in service; only the sources failed.
		return c.JSON(http.StatusBadGateway, fhir.ErrorOutcome("reload failed: "+err.Error()))
	}
	return c.JSON(http.StatusOK, sum)
}

// SnapshotSummary handles GET /api/v1/admin/snapshot.
func (h *Handler) SnapshotSummary(c echo.Context) error {
	snap, err := h.svc.Snapshot()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, snap.Summary())
}

// ClearCache handles POST /api/v1/admin/cache/clear.
func (h *Handler) ClearCache(c echo.Context) error {
	if err := h.svc.ClearCache(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
