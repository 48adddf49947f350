package state

import (
	"fmt"

	"LiftoffLedger/internal/config"
)

// SettingsManager is the in-core Config Provider. Reads hand out copies,
// so a command sees one consistent snapshot.
type SettingsManager struct {
	current config.Settings
}

func NewSettingsManager(initial config.Settings) *SettingsManager {
	return &SettingsManager{current: initial}
}

func (sm *SettingsManager) GetBasisPoints() config.BasisPoints { return sm.current.BasisPoints }

func (sm *SettingsManager) GetPeerAddresses() config.Peers { return sm.current.Peers }

func (sm *SettingsManager) GetTiming() config.Timing { return sm.current.Timing }

func (sm *SettingsManager) Snapshot() config.Settings { return sm.current }

// Update validates and installs new settings.
func (sm *SettingsManager) Update(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("settings update: %w", err)
	}
	sm.current = s
	return nil
}

// Restore installs settings from a snapshot without validation.
func (sm *SettingsManager) Restore(s config.Settings) {
	sm.current = s
}
