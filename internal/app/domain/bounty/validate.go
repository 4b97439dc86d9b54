package bounty

import "fmt"

// DescriptorVersion is the only task_descriptor schema version this build
// accepts. A descriptor omitting schema_version is treated as version 1.
const DescriptorVersion = 1

// allowedTopLevelKeysV1 is the strict-mode allow-list for task_descriptor's
// top-level shape. Nested shapes (output_spec, browser_flow) are left
// open-ended; only the top level is versioned, per the descriptor's own
// forward-compatibility note.
var allowedTopLevelKeysV1 = map[string]struct{}{
	"schema_version":   {},
	"task_type":        {},
	"freshness_sla_sec": {},
	"capability_tags":  {},
	"output_spec":      {},
	"browser_flow":     {},
}

// ValidateDescriptor checks task_descriptor against the sensitive-key
// denylist unconditionally, and additionally against the versioned
// top-level allow-list when strict is true (ENABLE_TASK_DESCRIPTOR strict
// mode). Non-strict callers tolerate unknown top-level keys so older or
// newer descriptor producers keep working across a rollout.
func ValidateDescriptor(descriptor map[string]any, strict bool) error {
	if key := FindSensitiveKey(descriptor); key != "" {
		return fmt.Errorf("task_descriptor_sensitive: key %q is not allowed", key)
	}
	if !strict {
		return nil
	}
	version := DescriptorVersion
	if v, ok := descriptor["schema_version"]; ok {
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("invalid_task_descriptor: schema_version must be a number")
		}
		version = int(n)
	}
	if version != DescriptorVersion {
		return fmt.Errorf("invalid_task_descriptor: unsupported schema_version %d", version)
	}
	for k := range descriptor {
		if _, ok := allowedTopLevelKeysV1[k]; !ok {
			return fmt.Errorf("invalid_task_descriptor: unknown key %q", k)
		}
	}
	return nil
}
