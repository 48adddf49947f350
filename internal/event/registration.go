package event

import "github.com/holiman/uint256"

// RegisterProject enters a launch through the registration gate. The
// sender becomes the project's dev address.
type RegisterProject struct {
	Header
	IPFSHash    string       `json:"ipfs_hash"`
	LaunchTime  int64        `json:"launch_time"`
	SoftCap     *uint256.Int `json:"soft_cap"`
	HardCap     *uint256.Int `json:"hard_cap"`
	TotalSupply *uint256.Int `json:"total_supply"`
	Name        string       `json:"name"`
	Symbol      string       `json:"symbol"`
}

func (e *RegisterProject) EventType() EventType { return EventTypeProjectRegistered }
func (e *RegisterProject) SaleScope() *uint64   { return nil }
