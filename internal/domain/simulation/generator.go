package simulation

import (
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// Fixed attribute catalogs. The values match what the flag rules in the demo
// environment target, so they must stay stable across versions.
var (
	userPlans  = []string{"platinum", "silver", "gold", "diamond", "free"}
	userRoles  = []string{"reader", "writer", "admin"}
	userMetros = []string{
		"New York", "Chicago", "Minneapolis", "Atlanta",
		"Los Angeles", "San Francisco", "Denver", "Boston",
	}

	deviceOSes     = []string{"Android", "iOS", "Mac OS", "Windows"}
	deviceVersions = []string{"1.0.2", "1.0.4", "1.0.7", "1.1.0", "1.1.5"}
	deviceTypes    = []string{"Fire TV", "Roku", "Hisense", "Comcast", "Verizon", "Browser"}

	organizations = []Organization{
		{Key: "org-7f9f58eb-c8e8-4c40-9962-43b13eeec4ea", Name: "Mayo Clinic", Employees: 76000},
		{Key: "org-40fad050-3f91-49dc-8007-33d02f1869e0", Name: "IBM", Employees: 288000},
		{Key: "org-fca878d0-3cab-4301-91da-bbc6dbb08fff", Name: "3M", Employees: 92000},
	}
	orgRegions = []string{"NA", "CN", "EU", "IN", "SA"}
)

// Generator produces randomized composite contexts for flag evaluation.
// It is not safe for concurrent use; each session loop owns one.
type Generator struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
}

// NewGenerator creates a generator with a time-based seed.
func NewGenerator() *Generator {
	return NewSeededGenerator(time.Now().UnixNano())
}

// NewSeededGenerator creates a generator with a fixed seed for
// reproducible output.
func NewSeededGenerator(seed int64) *Generator {
	return &Generator{
		faker: gofakeit.New(uint64(seed)),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Generate returns a fresh composite identity: user, device, and one of the
// cataloged organizations.
func (g *Generator) Generate() Context {
	return Context{
		User:         g.user(),
		Device:       g.device(),
		Organization: g.organization(),
	}
}

func (g *Generator) user() UserAttributes {
	return UserAttributes{
		Key:   "usr-" + uuid.New().String(),
		Name:  g.faker.FirstName() + " " + g.faker.LastName(),
		Plan:  g.pick(userPlans),
		Role:  g.pick(userRoles),
		Metro: g.pick(userMetros),
		// ~30% of users are flagged as beta testers.
		Beta: g.rng.Intn(10)+1 <= 3,
	}
}

func (g *Generator) device() DeviceAttributes {
	return DeviceAttributes{
		Key:     "dvc-" + uuid.New().String(),
		OS:      g.pick(deviceOSes),
		Type:    g.pick(deviceTypes),
		Version: g.pick(deviceVersions),
	}
}

func (g *Generator) organization() OrgAttributes {
	return OrgAttributes{
		Organization: organizations[g.rng.Intn(len(organizations))],
		Region:       g.pick(orgRegions),
	}
}

// Chance reports whether an event with the given percentage fires, using the
// generator's random source.
func (g *Generator) Chance(percent int) bool {
	return Chance(g.rng, percent)
}

// IntBetween returns a uniform integer in [lo, hi] inclusive.
func (g *Generator) IntBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.Intn(len(values))]
}
