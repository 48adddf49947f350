package query

// Amounts are base-10 wad strings so 256-bit values survive JSON.

// SaleResponse is a sale as seen by the read model.
type SaleResponse struct {
	SaleID          uint64 `json:"sale_id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	IPFSHash        string `json:"ipfs_hash,omitempty"`
	DevAddress      string `json:"dev_address"`
	CreatedAt       int64  `json:"created_at"`
	StartTime       int64  `json:"start_time"`
	EndTime         int64  `json:"end_time"`
	SoftCap         string `json:"soft_cap"`
	HardCap         string `json:"hard_cap"`
	FixedRate       string `json:"fixed_rate,omitempty"`
	TotalSupply     string `json:"total_supply"`
	TotalIgnited    string `json:"total_ignited"`
	Status          string `json:"status"`
	DeployedToken   string `json:"deployed_token,omitempty"`
	Pair            string `json:"pair,omitempty"`
	RewardSupply    string `json:"reward_supply"`
	EffectiveSupply string `json:"effective_supply"`
	RewardsPaid     string `json:"rewards_paid"`
	RefundedTotal   string `json:"refunded_total"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// ContributionResponse is one contributor's entry in a sale.
type ContributionResponse struct {
	SaleID        uint64 `json:"sale_id"`
	Contributor   string `json:"contributor"`
	Contributed   string `json:"contributed"`
	ClaimedReward bool   `json:"claimed_reward"`
	Refunded      bool   `json:"refunded"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}

// InsuranceResponse is an insurance fund with its views evaluated at Now.
type InsuranceResponse struct {
	SaleID           uint64 `json:"sale_id"`
	Token            string `json:"token"`
	Status           string `json:"status"`
	StartTime        int64  `json:"start_time"`
	TotalIgnited     string `json:"total_ignited"`
	TokensPerEthWad  string `json:"tokens_per_eth_wad"`
	BaseXEth         string `json:"base_xeth"`
	BaseFee          string `json:"base_fee"`
	RedeemedXEth     string `json:"redeemed_xeth"`
	ClaimedXEth      string `json:"claimed_xeth"`
	BaseTokenLidPool string `json:"base_token_lid_pool"`
	ClaimedTokens    string `json:"claimed_tokens"`
	LastClaimCycle   int64  `json:"last_claim_cycle"`

	Now                 int64  `json:"now"`
	CyclesElapsed       int64  `json:"cycles_elapsed"`
	IsExhausted         bool   `json:"is_exhausted"`
	TotalXethClaimable  string `json:"total_xeth_claimable"`
	TotalTokenClaimable string `json:"total_token_claimable"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// RedeemQuote is the XETH a redemption would pay.
type RedeemQuote struct {
	SaleID       uint64 `json:"sale_id"`
	TokenAmount  string `json:"token_amount"`
	XEthValue    string `json:"xeth_value"`
	Exhausted    bool   `json:"exhausted"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint64 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	FromSequence     int64             `json:"from_sequence"`
	ToSequence       int64             `json:"to_sequence"`
	EventsChecked    int               `json:"events_checked"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint64 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
