package launchdarkly

// Response shapes for the flag-management REST API. Only the fields the
// rollout check and the environment lookup read are declared; the rest of
// the payload is ignored.

type flagResponse struct {
	Environments map[string]flagEnvironment `json:"environments"`
}

type flagEnvironment struct {
	Fallthrough flagRule   `json:"fallthrough"`
	Rules       []flagRule `json:"rules"`
}

type flagRule struct {
	Rollout *flagRollout `json:"rollout"`
}

type flagRollout struct {
	ExperimentAllocation *experimentAllocation `json:"experimentAllocation"`
}

type experimentAllocation struct {
	Type string `json:"type"`
}

// measured reports whether the rule carries a rollout with a measured
// experiment allocation. Missing nested fields simply read as not measured.
func (r flagRule) measured() bool {
	return r.Rollout != nil &&
		r.Rollout.ExperimentAllocation != nil &&
		r.Rollout.ExperimentAllocation.Type == measuredRolloutType
}

type environmentsResponse struct {
	Items []environmentItem `json:"items"`
}

type environmentItem struct {
	Key    string `json:"key"`
	APIKey string `json:"apiKey"`
}
