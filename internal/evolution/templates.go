package evolution

// Templates are named personality baselines. create_agent_from_template
// mints a fresh agent directly from one; RadicalTransformation blends a
// struggling agent's current traits toward one instead of re-rolling from
// scratch.
var Templates = map[string]map[string]float64{
	"analyst":     {"analytical": 0.9, "creativity": 0.3, "assertiveness": 0.4, "agreeableness": 0.5, "collaboration": 0.6},
	"creative":    {"analytical": 0.3, "creativity": 0.9, "assertiveness": 0.5, "agreeableness": 0.6, "collaboration": 0.5},
	"facilitator": {"analytical": 0.5, "creativity": 0.5, "assertiveness": 0.4, "agreeableness": 0.8, "collaboration": 0.9},
	"executor":    {"analytical": 0.6, "creativity": 0.3, "assertiveness": 0.8, "agreeableness": 0.4, "collaboration": 0.5},
}

// TemplateNames lists Templates' keys in a stable order, so a caller with
// a seeded rand source can pick one deterministically.
var TemplateNames = []string{"analyst", "creative", "facilitator", "executor"}
