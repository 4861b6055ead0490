// Package wire defines the opaque config envelope exchanged with the
// control plane. The core treats ConfigValue/ConditionalValue/ConfigRow
// as payload it never inspects; only an external resolver decodes them.
package wire

// ConfigType classifies the kind of entry a key holds. The core never
// branches on it; it exists so a decoded entry can report it onward.
type ConfigType int

const (
	ConfigTypeUnknown ConfigType = iota
	ConfigTypeConfig
	ConfigTypeFeatureFlag
	ConfigTypeLogLevel
	ConfigTypeSegment
)

func (t ConfigType) String() string {
	switch t {
	case ConfigTypeConfig:
		return "CONFIG"
	case ConfigTypeFeatureFlag:
		return "FEATURE_FLAG"
	case ConfigTypeLogLevel:
		return "LOG_LEVEL"
	case ConfigTypeSegment:
		return "SEGMENT"
	default:
		return "UNKNOWN"
	}
}

// ConfigValue is a tagged union over the value variants the control
// plane can send. Exactly one field is populated; the core stores and
// forwards the struct without branching on which.
type ConfigValue struct {
	String   *string  `json:"string,omitempty"`
	Int      *int64   `json:"int,omitempty"`
	Double   *float64 `json:"double,omitempty"`
	Bool     *bool    `json:"bool,omitempty"`
	LogLevel *string  `json:"log_level,omitempty"`
	// Bytes is a fallback for variants this module doesn't model
	// explicitly (e.g. duration, string list); kept opaque.
	Bytes []byte `json:"bytes,omitempty"`
}

// ConditionalValue pairs an opaque targeting criteria blob with the
// value it resolves to when that criteria matches. Criteria is decoded
// only by an external resolver; this module never evaluates it.
type ConditionalValue struct {
	Criteria []byte      `json:"criteria,omitempty"`
	Value    ConfigValue `json:"value"`
}

// ConfigRow is one targeting rule: an optional environment scope plus
// an ordered list of conditional values evaluated top to bottom by the
// resolver.
type ConfigRow struct {
	ProjectEnvID int64              `json:"project_env_id,omitempty"`
	Values       []ConditionalValue `json:"values"`
}

// ConfigEntry is the authoritative state of one key at a given server
// revision. An entry with no rows is a tombstone.
type ConfigEntry struct {
	ID         uint64      `json:"id"`
	Key        string      `json:"key"`
	Rows       []ConfigRow `json:"rows"`
	ConfigType ConfigType  `json:"config_type"`
}

// IsTombstone reports whether this entry represents deletion of its key.
func (e ConfigEntry) IsTombstone() bool { return len(e.Rows) == 0 }

// ConfigServicePointer identifies the project/environment the envelope
// was generated for; carried through for observability and cache
// persistence, never interpreted by the core.
type ConfigServicePointer struct {
	ProjectID    int64 `json:"project_id"`
	ProjectEnvID int64 `json:"project_env_id"`
}

// Configs is the envelope delivered both as the initial checkpoint and
// as every incremental update.
type Configs struct {
	Configs              []ConfigEntry         `json:"configs"`
	ConfigServicePointer *ConfigServicePointer `json:"config_service_pointer,omitempty"`
}
