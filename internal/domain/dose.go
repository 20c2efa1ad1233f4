package domain

// OpioidDose is one opioid on the patient's regimen. Which numeric fields are
// required depends on the conversion kind of the matched opioid.
type OpioidDose struct {
	Name             string   `json:"name"`
	Route            string   `json:"route,omitempty"`
	DoseMgPerDose    *float64 `json:"dose_mg_per_dose,omitempty"`
	DosesPerDay      *float64 `json:"doses_per_day,omitempty"`
	TotalDailyDoseMg *float64 `json:"total_daily_dose_mg,omitempty"`
	StrengthMcgPerHr *float64 `json:"strength_mcg_per_hr,omitempty"`
}

// OpioidConversion is one entry of the opioid conversion table.
type OpioidConversion struct {
	Name   string     `json:"name" yaml:"name"`
	Kind   OpioidKind `json:"kind" yaml:"kind"`
	Factor float64    `json:"factor,omitempty" yaml:"factor,omitempty"`
}

// MMELineItem is the per-medication breakdown of a dose-equivalence calculation.
type MMELineItem struct {
	Name         string     `json:"name"`
	Route        string     `json:"route,omitempty"`
	MatchedName  string     `json:"matched_name,omitempty"`
	Kind         OpioidKind `json:"kind,omitempty"`
	DailyAmount  float64    `json:"daily_amount"`
	Factor       float64    `json:"factor"`
	Contribution float64    `json:"contribution"`
	Included     bool       `json:"included"`
	Note         string     `json:"note,omitempty"`
}

// MMEThresholds flags the two fixed safety thresholds.
type MMEThresholds struct {
	CautionAt50  bool `json:"caution_at_50"`
	AvoidAbove90 bool `json:"avoid_above_90"`
}

// MMEResult is the cumulative daily morphine milligram equivalent of a regimen.
type MMEResult struct {
	TotalMME   float64       `json:"total_mme"`
	Details    []MMELineItem `json:"details"`
	Thresholds MMEThresholds `json:"thresholds"`
	Notes      []string      `json:"notes"`
}
