package models

// CheckReport is the result of `walletsync check`.
type CheckReport struct {
	ConfigPath      string          `json:"config_path"`
	ConfigFound     bool            `json:"config_found"`
	Mode            string          `json:"mode"`
	ValidStructure  bool            `json:"valid_structure"`
	StructureErrors []string        `json:"structure_errors,omitempty"`
	Node            *NodeResult     `json:"node,omitempty"`
	Bridge          *BridgeResult   `json:"bridge,omitempty"`
	Provider        *ProviderResult `json:"provider,omitempty"`
}

// NodeResult holds the node-mode connectivity check.
type NodeResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID int64  `json:"chain_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BridgeResult holds the bridge-mode check.
type BridgeResult struct {
	URL      string `json:"url"`
	Waited   bool   `json:"waited"`
	Attached bool   `json:"attached"`
}

// ProviderResult is what the provider reported through the wallet API.
type ProviderResult struct {
	Present      bool   `json:"present"`
	MetaMask     bool   `json:"metamask"`
	ChainIDHex   string `json:"chain_id_hex,omitempty"`
	ChainID      uint64 `json:"chain_id,omitempty"`
	Consistent   bool   `json:"consistent"`
	AccountCount int    `json:"account_count"`
	Balance      string `json:"balance,omitempty"`
	Error        string `json:"error,omitempty"`
}

// OK reports whether the check passed.
func (r CheckReport) OK() bool {
	if !r.ValidStructure {
		return false
	}
	if r.Node != nil && r.Node.Status != "ok" {
		return false
	}
	if b := r.Bridge; b != nil && b.Waited {
		if !b.Attached || r.Provider == nil || !r.Provider.Present {
			return false
		}
	}
	if r.Provider != nil && (r.Provider.Error != "" || !r.Provider.Consistent) {
		return false
	}
	return true
}
