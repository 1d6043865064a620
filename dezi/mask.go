package dezi

import "strings"

// Mask hides all but the last four characters of an identifier for logs and
// display surfaces.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

// Safe returns a view of the claims with sensitive identifiers masked.
func (c *Claims) Safe() map[string]any {
	out := map[string]any{
		"dezi_nummer":    Mask(c.DeziNummer),
		"abonnee_nummer": Mask(c.AbonneeNummer),
		"rol_code":       c.RolCode,
		"rol_naam":       c.RolNaam,
	}
	if c.Subject != "" {
		out["sub"] = Mask(c.Subject)
	}
	return out
}
