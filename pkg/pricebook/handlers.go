package pricebook

import (
	"encoding/json"
	"net/http"

	sfapex "github.com/natserract/distributors/pkg/salesforce/apex"
	"go.uber.org/zap"
)

// Apex REST actions behind the pricebook routes.
const (
	EndpointPricebookList          = "partnerpricebook/pricebooklist"
	EndpointPricebook              = "partnerpricebook/pricebook"
	EndpointNapsPricebook          = "partnerpricebook/napspricebook"
	EndpointPricebookChangeSummary = "partnerpricebook/pricebookchangesummary"
	EndpointDiscountBands          = "partnerpricebook/discountbands"
)

// route binds an HTTP path to one Apex action.
type route struct {
	path     string
	endpoint string

	// param is the query parameter forwarded as pricebookId, if any.
	param    string
	required bool

	// conform enforces the response model in strict mode; nil relays as-is.
	conform func(json.RawMessage) (json.RawMessage, error)
}

var routes = []route{
	{path: "/pricebook_list", endpoint: EndpointPricebookList, conform: conformList[PricebookHeader]},
	{path: "/pricebook", endpoint: EndpointPricebook, param: "pricebook_id", required: true, conform: conformList[PricebookLineItem]},
	{path: "/naps_pricebook", endpoint: EndpointNapsPricebook, param: "pricebook_id", required: true, conform: conformList[NapsPricebookLineItem]},
	{path: "/pricebook_change_summary", endpoint: EndpointPricebookChangeSummary, param: "pricebook_id", required: true, conform: conformList[PricebookChange]},
	{path: "/discount_bands", endpoint: EndpointDiscountBands, param: "pricebook_id", conform: conformList[DiscountBand]},
}

// legacyRoutes keep the CamelCase paths older partner integrations call.
var legacyRoutes = []route{
	{path: "/PricebookList", endpoint: EndpointPricebookList},
	{path: "/Pricebook", endpoint: EndpointPricebook, param: "pricebookId", required: true},
	{path: "/PricebookChangeSummary", endpoint: EndpointPricebookChangeSummary, param: "pricebookId", required: true},
	{path: "/DiscountBands", endpoint: EndpointDiscountBands},
}

// Handler relays pricebook requests to Salesforce on behalf of one partner.
type Handler struct {
	apex   sfapex.ApexClient
	mdmID  string
	strict bool
	logger *zap.Logger
}

func NewHandler(apex sfapex.ApexClient, mdmID string, strict bool, logger *zap.Logger) *Handler {
	return &Handler{
		apex:   apex,
		mdmID:  mdmID,
		strict: strict,
		logger: logger,
	}
}

// payload builds the Apex parameters for rt from the request query.
func (h *Handler) payload(rt route, r *http.Request) (map[string]any, error) {
	data := map[string]any{"mdmId": h.mdmID}
	if rt.param == "" {
		return data, nil
	}

	q := r.URL.Query()
	if !q.Has(rt.param) {
		if rt.required {
			return nil, &MissingParamError{Param: rt.param}
		}
		return data, nil
	}
	data["pricebookId"] = q.Get(rt.param)
	return data, nil
}

func (h *Handler) relay(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := h.payload(rt, r)
		if err != nil {
			respondError(w, r, h.logger, err)
			return
		}

		body, err := h.apex.Execute(r.Context(), rt.endpoint, http.MethodGet, data)
		if err != nil {
			respondError(w, r, h.logger, err)
			return
		}

		if h.strict && rt.conform != nil {
			body, err = rt.conform(body)
			if err != nil {
				respondError(w, r, h.logger, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			h.logger.Warn("Failed to write response body", zap.Error(err), zap.String("path", r.URL.Path))
		}
	}
}

// Health answers liveness and readiness probes. It never touches Salesforce.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
