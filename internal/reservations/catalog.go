package reservations

// Centers maps the public center names accepted by the API to the provider's
// center codes. Reservations store the code.
var Centers = map[string]string{
	"platero": "134",
}

// Classes the provider offers; requests are validated against this list before
// anything is persisted.
var Classes = []string{
	"Body Pump",
	"Cycling",
	"Body Combat",
	"GAP",
	"Virtual Cycling",
	"Zumba",
	"Yoga",
	"Body Balance",
}

// CenterCode resolves a public center name to its provider code.
func CenterCode(name string) (string, bool) {
	code, ok := Centers[name]
	return code, ok
}

// CenterName resolves a provider code back to the public name, falling back to
// the code itself for unknown centers (used in notifications).
func CenterName(code string) string {
	for name, c := range Centers {
		if c == code {
			return name
		}
	}
	return code
}

func ValidClass(name string) bool {
	for _, c := range Classes {
		if c == name {
			return true
		}
	}
	return false
}
