package pricebook

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Geography string

const (
	GeographyAPAC  Geography = "APAC"
	GeographyEMEA  Geography = "EMEA"
	GeographyLATAM Geography = "LATAM"
	GeographyNA    Geography = "NA"
)

type PricebookType string

const (
	PricebookTypeCommercial PricebookType = "Commercial"
	PricebookTypeNAPS       PricebookType = "NAPS"
)

type CurrencyCode string

const (
	CurrencyUSD CurrencyCode = "USD"
	CurrencyGBP CurrencyCode = "GBP"
	CurrencyEUR CurrencyCode = "EUR"
)

// DiscountRule names a discount that may apply to a line item.
type DiscountRule string

const (
	DiscountRuleNone              DiscountRule = "none"
	DiscountRuleDelegatedDiscount DiscountRule = "delegated_discount"
	DiscountRuleHosted            DiscountRule = "hosted"
)

// PricebookHeader describes one pricebook available to the partner. Dates
// are MM/DD/YYYY strings as Salesforce sends them. The string fields must be
// present but may be empty.
type PricebookHeader struct {
	PricebookID        *string       `json:"pricebook_id" validate:"required"`
	Geo                Geography     `json:"geo" validate:"oneof=APAC EMEA LATAM NA"`
	PricebookType      PricebookType `json:"pricebook_type" validate:"oneof=Commercial NAPS"`
	CurrencyCode       CurrencyCode  `json:"currency_code" validate:"oneof=USD GBP EUR"`
	Name               *string       `json:"name" validate:"required"`
	Version            *string       `json:"version" validate:"required"`
	EffectiveStartDate *string       `json:"effective_start_date" validate:"required"`
	EffectiveEndDate   *string       `json:"effective_end_date" validate:"required"`
}

type PricebookLineItem struct {
	SKU                      *string        `json:"sku"`
	SKUDescription           *string        `json:"sku_description"`
	Product                  *string        `json:"product"`
	Category                 *string        `json:"category"`
	Region                   *string        `json:"region"`
	Country                  *string        `json:"country"`
	CurrencyCode             *string        `json:"currency_code"`
	ListPrice                *float64       `json:"list_price"`
	TrainingUnit             *string        `json:"training_unit"`
	TrainingModality         *string        `json:"training_modality"`
	IncludedCourseAndExamSKU *string        `json:"included_course_and_exam_sku"`
	BillingType              *string        `json:"billing_type"`
	ServiceTerm              *string        `json:"service_term"`
	SupportLevel             *string        `json:"support_level"`
	SupportType              *string        `json:"support_type"`
	UnitOfMeasure            *string        `json:"unit_of_measure"`
	Cores                    *string        `json:"cores"`
	Nodes                    *string        `json:"nodes"`
	Sockets                  *string        `json:"sockets"`
	VirtualGuests            *string        `json:"virtual_guests"`
	DiscountRule             []DiscountRule `json:"discount_rule" validate:"omitempty,dive,oneof=none delegated_discount hosted"`
}

// NapsPricebookLineItem is a line item of a NAPS (public sector) pricebook.
type NapsPricebookLineItem struct {
	SKU                   *string        `json:"sku"`
	SKUDescription        *string        `json:"sku_description"`
	Product               *string        `json:"product"`
	Category              *string        `json:"category"`
	Region                *string        `json:"region"`
	Country               *string        `json:"country"`
	CurrencyCode          *string        `json:"currency_code"`
	ListPrice             *float64       `json:"list_price"`
	ESIStandardPrice      *float64       `json:"esi_standard_price"`
	ESIPrice              *float64       `json:"esi_price"`
	SLEDStandardPrice     *float64       `json:"sled_standard_price"`
	SLEDPreferredPrice    *float64       `json:"sled_preferred_price"`
	FederalStandardPrice  *float64       `json:"federal_standard_price"`
	FederalPreferredPrice *float64       `json:"federal_preferred_price"`
	ServiceTerm           *string        `json:"service_term"`
	SupportLevel          *string        `json:"support_level"`
	SupportType           *string        `json:"support_type"`
	UnitOfMeasure         *string        `json:"unit_of_measure"`
	Cores                 *string        `json:"cores"`
	Nodes                 *string        `json:"nodes"`
	Sockets               *string        `json:"sockets"`
	VirtualGuests         *string        `json:"virtual_guests"`
	DiscountRule          []DiscountRule `json:"discount_rule" validate:"omitempty,dive,oneof=none delegated_discount hosted"`
}

// PricebookChange is one line of a pricebook change summary. ChangeType is
// free text such as "SKU Added" or "SKU Updated [List Price]".
type PricebookChange struct {
	SKU                      *string        `json:"sku"`
	SKUDescription           *string        `json:"sku_description"`
	Product                  *string        `json:"product"`
	Category                 *string        `json:"category"`
	Region                   *string        `json:"region"`
	Country                  *string        `json:"country"`
	CurrencyCode             *string        `json:"currency_code"`
	ListPrice                *float64       `json:"list_price"`
	TrainingUnit             *string        `json:"training_unit"`
	TrainingModality         *string        `json:"training_modality"`
	IncludedCourseAndExamSKU *string        `json:"included_course_and_exam_sku"`
	BillingType              *string        `json:"billing_type"`
	ServiceTerm              *string        `json:"service_term"`
	SupportLevel             *string        `json:"support_level"`
	SupportType              *string        `json:"support_type"`
	UnitOfMeasure            *string        `json:"unit_of_measure"`
	Cores                    *string        `json:"cores"`
	Nodes                    *string        `json:"nodes"`
	Sockets                  *string        `json:"sockets"`
	VirtualGuests            *string        `json:"virtual_guests"`
	DiscountRule             []DiscountRule `json:"discount_rule" validate:"omitempty,dive,oneof=none delegated_discount hosted"`
	ChangeType               *string        `json:"change_type"`
	EffectiveDate            *string        `json:"effective_date"`
}

type DiscountBand struct {
	DiscountBandName        *string  `json:"discount_band_name"`
	ApplicableCountries     *string  `json:"applicable_countries"`
	OneYearDealSizeMSRPLow  *float64 `json:"one_year_deal_size_msrp_low"`
	OneYearDealSizeMSRPHigh *float64 `json:"one_year_deal_size_msrp_high"`
	DiscountPercentage      *float64 `json:"discount_percentage"`
}

var validate = validator.New()

// conformList decodes raw as a list of T, validates every element and
// re-encodes it. Fields outside T are dropped from the output.
func conformList[T any](raw json.RawMessage) (json.RawMessage, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseModel, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: expected a list, got null", ErrResponseModel)
	}
	for i := range items {
		if err := validate.Struct(&items[i]); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrResponseModel, i, err)
		}
	}
	out, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseModel, err)
	}
	return out, nil
}
