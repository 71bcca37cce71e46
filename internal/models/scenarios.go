package models

// GroundScenario is a named ground coefficient applied to a plant as a single
// scalar. Trend scenarios feed the brake-force plants, friction scenarios the
// friction-limited plant.
type GroundScenario struct {
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Coefficient float64 `json:"coefficient"`
	Description string  `json:"description"`
}

// TrendScenarios lists the ground presets for the brake-force plants.
// Higher trend means the surface lets the wheel spin up harder.
func TrendScenarios() []GroundScenario {
	return []GroundScenario{
		{Name: "asphalt", Model: "brake_force", Coefficient: 0.0, Description: "dry asphalt, no spin trend"},
		{Name: "rain", Model: "brake_force", Coefficient: 2.0, Description: "light rain"},
		{Name: "heavy_rain", Model: "brake_force", Coefficient: 4.0, Description: "heavy rain"},
		{Name: "snow", Model: "brake_force", Coefficient: 6.0, Description: "packed snow"},
		{Name: "ice", Model: "brake_force", Coefficient: 8.0, Description: "ice"},
		{Name: "black_ice", Model: "brake_force", Coefficient: 35.0, Description: "extreme ice, drives the loop into fault"},
	}
}

// FrictionScenarios lists the ground presets for the friction-limited plant.
// The coefficient is the friction coefficient μ.
func FrictionScenarios() []GroundScenario {
	return []GroundScenario{
		{Name: "dry", Model: "friction_limited", Coefficient: 0.9, Description: "dry asphalt"},
		{Name: "wet", Model: "friction_limited", Coefficient: 0.6, Description: "wet asphalt"},
		{Name: "snow", Model: "friction_limited", Coefficient: 0.3, Description: "packed snow"},
		{Name: "ice", Model: "friction_limited", Coefficient: 0.1, Description: "ice"},
	}
}

// AllScenarios returns every shipped ground scenario.
func AllScenarios() []GroundScenario {
	return append(TrendScenarios(), FrictionScenarios()...)
}

// FindScenario looks a scenario up by name, preferring the given model when
// names collide across models.
func FindScenario(name, model string) (GroundScenario, bool) {
	var fallback GroundScenario
	found := false
	for _, s := range AllScenarios() {
		if s.Name != name {
			continue
		}
		if s.Model == model {
			return s, true
		}
		if !found {
			fallback = s
			found = true
		}
	}
	return fallback, found
}
