package models

// SecurityCategory groups tools by the kind of privilege their operations need.
type SecurityCategory string

const (
	CategoryCodeExecution    SecurityCategory = "code_execution"
	CategoryOrchestration    SecurityCategory = "orchestration"
	CategoryContentGeneration SecurityCategory = "content_generation"
	CategoryReadOnlyAnalysis SecurityCategory = "read_only_analysis"
)

// OperationProfile carries a per-operation approval override within a
// Security Profile (original_source op-core/src/security.rs), supplementing
// the distilled spec's per-tool requires_approval with per-operation
// granularity.
type OperationProfile struct {
	Name             string `json:"name"`
	RequiresApproval bool   `json:"requires_approval"`
}

// SecurityProfile binds a tool (or agent operation set) to its execution
// constraints and gate conditions.
type SecurityProfile struct {
	Category          SecurityCategory   `json:"category"`
	TimeoutSecs       int                `json:"timeout_secs"`
	MaxMemoryMB       int                `json:"max_memory_mb"`
	MaxOutputSize     int                `json:"max_output_size"`
	RequiresRoot      bool               `json:"requires_root"`
	RequiresApproval  bool               `json:"requires_approval"`
	AllowedCommands   []string           `json:"allowed_commands,omitempty"`
	AllowedReadPaths  []string           `json:"allowed_read_paths,omitempty"`
	ForbiddenPaths    []string           `json:"forbidden_paths,omitempty"`
	Operations        []OperationProfile `json:"operations,omitempty"`
}

// OperationRequiresApproval resolves per-operation approval, falling back to
// the profile-wide flag when the operation has no explicit override.
func (p SecurityProfile) OperationRequiresApproval(operation string) bool {
	for _, op := range p.Operations {
		if op.Name == operation {
			return op.RequiresApproval
		}
	}
	return p.RequiresApproval
}

// SecurityLevel is a tool's required privilege tier.
type SecurityLevel string

const (
	LevelPublic     SecurityLevel = "public"
	LevelStandard   SecurityLevel = "standard"
	LevelElevated   SecurityLevel = "elevated"
	LevelRestricted SecurityLevel = "restricted"
)

// AccessZone classifies a caller by IP, derived purely from the IP plus
// static config — never stored.
type AccessZone string

const (
	ZoneLocalhost      AccessZone = "localhost"
	ZoneTrustedMesh     AccessZone = "trusted_mesh"
	ZonePrivateNetwork AccessZone = "private_network"
	ZonePublic         AccessZone = "public"
)

// accessMatrix implements spec.md §4.8's table.
var accessMatrix = map[AccessZone]map[SecurityLevel]bool{
	ZoneLocalhost: {
		LevelPublic: true, LevelStandard: true, LevelElevated: true, LevelRestricted: true,
	},
	ZoneTrustedMesh: {
		LevelPublic: true, LevelStandard: true, LevelElevated: true, LevelRestricted: true,
	},
	ZonePrivateNetwork: {
		LevelPublic: true, LevelStandard: true, LevelElevated: true, LevelRestricted: false,
	},
	ZonePublic: {
		LevelPublic: true, LevelStandard: true, LevelElevated: false, LevelRestricted: false,
	},
}

// CanAccess implements the zone×level access matrix exactly.
func CanAccess(zone AccessZone, level SecurityLevel) bool {
	levels, ok := accessMatrix[zone]
	if !ok {
		return false
	}
	return levels[level]
}
