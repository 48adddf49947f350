package event

import "LiftoffLedger/internal/config"

// SettingsUpdate replaces the Config Provider snapshot. Owner only.
type SettingsUpdate struct {
	Header
	Settings config.Settings `json:"settings"`
}

func (e *SettingsUpdate) EventType() EventType { return EventTypeSettingsUpdate }
func (e *SettingsUpdate) SaleScope() *uint64   { return nil }
