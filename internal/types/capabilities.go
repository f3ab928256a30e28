package types

// ProviderKind groups upstream providers by their place in the fallback chain.
type ProviderKind string

const (
	KindAggregator ProviderKind = "aggregator"
	KindResearch   ProviderKind = "research"
	KindLocal      ProviderKind = "local"
	KindDirect     ProviderKind = "direct"
)

// ProviderStatus is reported by the health endpoints.
type ProviderStatus struct {
	Name       string       `json:"name"`
	Kind       ProviderKind `json:"kind"`
	Configured bool         `json:"configured"`
	Detail     string       `json:"detail,omitempty"`
}
