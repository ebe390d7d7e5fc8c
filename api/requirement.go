package api

// Requirement types.
const (
	RequirementTypePackage  = "package"
	RequirementTypeLanguage = "language"
)

// Requirement is something a service needs the payload to install.
type Requirement struct {
	Type   string `json:"type"   yaml:"type"`
	Name   string `json:"name"   yaml:"name"`
	Reason string `json:"reason" yaml:"reason"`
}

// PackageRequirement returns a requirement for the named package.
func PackageRequirement(name string, reason string) Requirement {
	return Requirement{Type: RequirementTypePackage, Name: name, Reason: reason}
}

// LanguageRequirement returns a requirement for the support of the named locale.
func LanguageRequirement(locale string, reason string) Requirement {
	return Requirement{Type: RequirementTypeLanguage, Name: locale, Reason: reason}
}
