// Package simulation holds the per-session state and the synthetic identity
// and probability logic of the guarded rollout traffic runner.
package simulation

// UserAttributes is the user sub-context of a generated evaluation identity.
type UserAttributes struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Plan  string `json:"plan"`
	Role  string `json:"role"`
	Metro string `json:"metro"`
	Beta  bool   `json:"beta"`
}

// DeviceAttributes is the device sub-context.
type DeviceAttributes struct {
	Key     string `json:"key"`
	OS      string `json:"os"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// Organization is one entry of the fixed organization catalog.
type Organization struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Employees int    `json:"employees"`
}

// OrgAttributes is the organization sub-context: a catalog entry plus a
// randomized region.
type OrgAttributes struct {
	Organization
	Region string `json:"region"`
}

// Context is the composite identity one flag evaluation runs against.
type Context struct {
	User         UserAttributes   `json:"user"`
	Device       DeviceAttributes `json:"device"`
	Organization OrgAttributes    `json:"organization"`
}
