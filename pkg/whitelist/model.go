package whitelist

import "github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"

// WhitelistedAddress is an external address approved for transfers.
type WhitelistedAddress struct {
	Blockchain              string                  `json:"blockchain,omitempty"`
	Currency                string                  `json:"currency,omitempty"`
	Network                 string                  `json:"network,omitempty"`
	Address                 string                  `json:"address"`
	Memo                    string                  `json:"memo,omitempty"`
	Label                   string                  `json:"label,omitempty"`
	CustomerID              string                  `json:"customerId,omitempty"`
	ContractType            string                  `json:"contractType,omitempty"`
	AddressType             string                  `json:"addressType,omitempty"`
	ExchangeAccountID       string                  `json:"exchangeAccountId,omitempty"`
	TNParticipantID         string                  `json:"tnParticipantId,omitempty"`
	LinkedInternalAddresses []LinkedInternalAddress `json:"linkedInternalAddresses,omitempty"`
	LinkedWallets           []LinkedWallet          `json:"linkedWallets,omitempty"`
}

func (a *WhitelistedAddress) chain() string {
	if a.Blockchain != "" {
		return a.Blockchain
	}
	return a.Currency
}

func (a *WhitelistedAddress) network() string { return a.Network }

// WhitelistedAsset is a token contract approved for use.
type WhitelistedAsset struct {
	Blockchain      string `json:"blockchain,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Network         string `json:"network,omitempty"`
	ContractAddress string `json:"contractAddress"`
	Name            string `json:"name,omitempty"`
	Symbol          string `json:"symbol,omitempty"`
	Decimals        int    `json:"decimals,omitempty"`
	Kind            string `json:"kind,omitempty"`
	TokenID         string `json:"tokenId,omitempty"`
}

func (a *WhitelistedAsset) chain() string {
	if a.Blockchain != "" {
		return a.Blockchain
	}
	return a.Currency
}

func (a *WhitelistedAsset) network() string { return a.Network }

// AddressResult is a verified whitelisted address along with the governance
// data that approved it.
type AddressResult struct {
	Address      *WhitelistedAddress
	Container    *rules.DecodedRulesContainer
	VerifiedHash string
}

// AssetResult is a verified whitelisted asset.
type AssetResult struct {
	Asset        *WhitelistedAsset
	Container    *rules.DecodedRulesContainer
	VerifiedHash string
}
