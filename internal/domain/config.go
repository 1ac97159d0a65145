package domain

// ChainConfig is the per-chain address book used to build transactions.
type ChainConfig struct {
	ChainID ChainID       `json:"chain_id" yaml:"chain_id"`
	Lending LendingConfig `json:"lending" yaml:"lending"`
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge"`
	Vault   VaultConfig   `json:"vault" yaml:"vault"`
}

// LendingConfig describes the lending pool on a chain.
type LendingConfig struct {
	Asset        string `json:"asset" yaml:"asset"`
	OnBehalfOf   string `json:"on_behalf_of" yaml:"on_behalf_of"`
	ReferralCode uint16 `json:"referral_code" yaml:"referral_code"`
	PoolAddress  string `json:"pool_address" yaml:"pool_address"`
}

// BridgeConfig describes the burn-and-mint bridge contracts on a chain.
type BridgeConfig struct {
	MessengerAddress   string `json:"messenger_address" yaml:"messenger_address"`
	TransmitterAddress string `json:"transmitter_address" yaml:"transmitter_address"`
	TokenAddress       string `json:"token_address" yaml:"token_address"`
	Domain             uint32 `json:"domain" yaml:"domain"`
}

// VaultConfig describes the vault contract on a chain.
type VaultConfig struct {
	VaultAddress string `json:"vault_address" yaml:"vault_address"`
}
