package models

// Requests for the analysis HTTP endpoints. Defined in domain for
// consistency and reuse.

type AllocationsRequest struct {
	// Pointer so regime 0 is distinguishable from "all regimes".
	Regime   *int   `query:"regime" json:"regime" validate:"omitempty,gte=0"`
	Appetite string `query:"appetite" json:"appetite" validate:"omitempty,oneof=risk_averse risk_neutral risk_loving"`
	Horizon  int    `query:"horizon" json:"horizon" validate:"omitempty,gt=0"`
}

type MonthlyDataRequest struct {
	RiskLevel string `query:"risk_level" json:"risk_level" default:"moderate" validate:"oneof=risk_averse moderate risk_loving"`
}

type EquityCurvesRequest struct {
	// Pointer so an explicit rebased=false survives default filling.
	Rebased *bool `query:"rebased" json:"rebased" default:"true"`
}
