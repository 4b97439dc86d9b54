package system

import (
	"sort"

	core "github.com/R3E-Network/proofwork/internal/app/core/service"
)

// CollectDescriptors extracts the Descriptor of every registered
// system.Service that advertises one — the outbox processors, the cron
// sweeper, the HTTP listener — skipping entries that don't implement
// DescriptorProvider, and sorts the result for deterministic presentation
// (layer, then name) so a status endpoint or log line lists them the same
// way every time regardless of registration order.
func CollectDescriptors(providers []DescriptorProvider) []core.Descriptor {
	var out []core.Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
