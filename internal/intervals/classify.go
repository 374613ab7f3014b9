package intervals

import "statereport/internal/model"

// IsAlertable decides whether an interval of the given signal type and value
// is reported to operators. Errors always alert, warnings only when enabled,
// states when their value is in alertStates; any other signal never alerts.
func IsAlertable(signalType string, value model.Value, includeWarnings bool, alertStates model.ValueSet) bool {
	switch signalType {
	case model.SignalError:
		return true
	case model.SignalWarning:
		return includeWarnings
	case model.SignalState:
		return alertStates.Contains(value)
	default:
		return false
	}
}
