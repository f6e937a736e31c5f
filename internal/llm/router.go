package llm

import (
	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

// DefaultModes maps the three-tier selector onto model ids.
var DefaultModes = map[model.Mode]string{
	model.ModeEconomy:  "gpt-4o-mini",
	model.ModeStandard: "claude-3-5-haiku-20241022",
	model.ModePremium:  "claude-3-5-sonnet-20241022",
}

// Router picks the client serving a model.
type Router struct {
	clients  []Client
	fallback Client
	modes    map[model.Mode]string
}

// NewRouter creates a router. Models no client serves go to fallback.
func NewRouter(fallback Client, clients ...Client) *Router {
	return &Router{
		clients:  clients,
		fallback: fallback,
		modes:    DefaultModes,
	}
}

// Resolve returns the client and model id for a request's mode or model.
// An explicit model id wins over mode.
func (r *Router) Resolve(mode model.Mode, modelID string) (Client, string) {
	if modelID == "" {
		modelID = r.modes[mode]
	}
	if modelID == "" {
		modelID = r.modes[model.ModeStandard]
	}

	for _, c := range r.clients {
		for _, m := range c.Models() {
			if m == modelID {
				return c, modelID
			}
		}
	}
	return r.fallback, modelID
}
