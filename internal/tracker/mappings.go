package tracker

import (
	"os"
	"strings"
)

// Default service to tracker project keys. ROTA_PROJECT_<SERVICE> overrides.
var serviceProjects = map[string]string{
	"api":            "API",
	"frontend":       "FE",
	"backend":        "BE",
	"infrastructure": "INFRA",
	"data":           "DATA",
	"mobile":         "MOBILE",
}

// severityPriorities maps platform severities to tracker priority names.
var severityPriorities = map[string]string{
	"sev1": "Critical",
	"sev2": "High",
	"sev3": "Medium",
	"sev4": "Low",
}

// prioritySeverities is the inverse mapping, used when reading search results.
var prioritySeverities = map[string]string{
	"Critical": "sev1",
	"High":     "sev2",
	"Medium":   "sev3",
	"Low":      "sev4",
}

// ProjectForService resolves the tracker project key for a service. An env
// override ROTA_PROJECT_<SERVICE> wins; unknown services fall back to the
// uppercased service name with dashes and underscores stripped.
func ProjectForService(service string) string {
	s := strings.ToLower(service)
	envKey := "ROTA_PROJECT_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(s))
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if p, ok := serviceProjects[s]; ok {
		return p
	}
	return strings.ToUpper(strings.NewReplacer("-", "", "_", "").Replace(s))
}

// projectServices is the inverse of serviceProjects, used when mapping
// search results back to a platform service.
var projectServices = func() map[string]string {
	m := make(map[string]string, len(serviceProjects))
	for svc, proj := range serviceProjects {
		m[proj] = svc
	}
	return m
}()

// ServiceForProject resolves a tracker project key back to a service name.
// Unknown projects fall back to the lowercased key.
func ServiceForProject(project string) string {
	if s, ok := projectServices[project]; ok {
		return s
	}
	return strings.ToLower(project)
}

// PriorityForSeverity resolves the tracker priority name for a severity.
// Unknown severities default to Medium.
func PriorityForSeverity(severity string) string {
	if p, ok := severityPriorities[strings.ToLower(severity)]; ok {
		return p
	}
	return "Medium"
}

// SeverityForPriority resolves a tracker priority name back to a severity.
// Unknown priorities default to sev4.
func SeverityForPriority(priority string) string {
	if s, ok := prioritySeverities[priority]; ok {
		return s
	}
	return "sev4"
}
