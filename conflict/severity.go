package conflict

// SeverityTiers maps field paths to severities. Keys may be full paths
// ("subtasks[3].title"), paths without element selectors ("subtasks.title"),
// or top-level field names ("subtasks").
type SeverityTiers map[string]Severity

// DefaultSeverityTiers returns the seed mapping for task-management documents.
// It is configuration, not a contract: callers replace or extend it freely.
func DefaultSeverityTiers() SeverityTiers {
	tiers := SeverityTiers{}
	for _, f := range []string{"id", "title", "name", "projectId", DeletedPath} {
		tiers[f] = Critical
	}
	for _, f := range []string{"status", "priority", "dueDate", "scheduledDate", "scheduledTime", "estimatedPomodoros"} {
		tiers[f] = High
	}
	for _, f := range []string{"description", "notes", "tags", "labels", "subtasks", "attachments"} {
		tiers[f] = Medium
	}
	for _, f := range []string{"updatedAt", "createdAt", "lastSyncedAt", "metadata", "_rev"} {
		tiers[f] = Low
	}
	return tiers
}

// Clone returns a copy of the mapping.
func (t SeverityTiers) Clone() SeverityTiers {
	out := make(SeverityTiers, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Lookup returns the tier for path, trying the full path, then the path
// without element selectors, then the top-level field.
func (t SeverityTiers) Lookup(path string) (Severity, bool) {
	if s, ok := t[path]; ok {
		return s, true
	}
	stripped := StripSelectors(path)
	if s, ok := t[stripped]; ok {
		return s, true
	}
	if s, ok := t[TopLevel(path)]; ok {
		return s, true
	}
	return 0, false
}

// highest returns the highest tier among paths; unmapped paths count as def.
func (t SeverityTiers) highest(paths []string, def Severity) Severity {
	var max Severity
	for _, p := range paths {
		s, ok := t.Lookup(p)
		if !ok {
			s = def
		}
		if s > max {
			max = s
		}
	}
	return max
}
