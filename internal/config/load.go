package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type fileTiming struct {
	InsurancePeriod duration `toml:"insurance_period"`
	SoftCapTimer    duration `toml:"soft_cap_timer"`
	MinLaunchTime   duration `toml:"min_launch_time"`
	MaxLaunchTime   duration `toml:"max_launch_time"`
}

type file struct {
	Owner       common.Address `toml:"owner"`
	BasisPoints BasisPoints    `toml:"basis_points"`
	Peers       Peers          `toml:"peers"`
	Timing      fileTiming     `toml:"timing"`
}

// Load reads settings from a TOML file. Keys missing from the file keep
// their DefaultSettings value. The result is validated.
func Load(path string) (Settings, error) {
	s := DefaultSettings()
	f := file{
		BasisPoints: s.BasisPoints,
		Timing: fileTiming{
			InsurancePeriod: duration{time.Duration(s.Timing.InsurancePeriod) * time.Second},
			SoftCapTimer:    duration{time.Duration(s.Timing.SoftCapTimer) * time.Second},
			MinLaunchTime:   duration{time.Duration(s.Timing.MinLaunchTime) * time.Second},
			MaxLaunchTime:   duration{time.Duration(s.Timing.MaxLaunchTime) * time.Second},
		},
	}

	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return Settings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
	}

	s = Settings{
		Owner:       f.Owner,
		BasisPoints: f.BasisPoints,
		Peers:       f.Peers,
		Timing: Timing{
			InsurancePeriod: int64(f.Timing.InsurancePeriod.Seconds()),
			SoftCapTimer:    int64(f.Timing.SoftCapTimer.Seconds()),
			MinLaunchTime:   int64(f.Timing.MinLaunchTime.Seconds()),
			MaxLaunchTime:   int64(f.Timing.MaxLaunchTime.Seconds()),
		},
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
