package model

// Datapoint keys read by the dispatcher.
const (
	KeyGridPowerW       = "grid.power_w"
	KeyGridPowerRawW    = "grid.power_raw_w"
	KeySoCPct           = "ess.soc_pct"
	KeyBatteryPowerW    = "ess.power_w" // discharge positive
	KeyPVExportW        = "pv.export_w"
	KeyControlEnabled   = "control.enabled"
	KeyEmergencyReserve = "ess.emergency_reserve"
	KeyPVForecastKWh    = "forecast.pv_remaining_kwh"

	KeyCapImportLimitW       = "cap.grid_import_limit_w"
	KeyCapImportLimitSource  = "cap.grid_import_limit_source"
	KeyCapPeakShavingLimitW  = "cap.peak_shaving_limit_w"
	KeyCapPeakOverW          = "cap.peak_over_w"
	KeyCapRequiredReductionW = "cap.required_reduction_w"

	KeyTariffActive            = "tariff.active"
	KeyTariffDesiredW          = "tariff.desired_w"
	KeyTariffState             = "tariff.state"
	KeyTariffDischargeAllowed  = "tariff.discharge_allowed"
	KeyTariffGridChargeAllowed = "tariff.grid_charge_allowed"

	KeyAssistRequestW = "assist.request_w"
)
