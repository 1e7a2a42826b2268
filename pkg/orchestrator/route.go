package orchestrator

import (
	"fmt"
	"net/url"

	"github.com/gobwas/glob"
)

// RouteKind is the portal stage a page belongs to.
type RouteKind int

const (
	RouteOther RouteKind = iota
	RouteLogin
	RouteContactDetails
	RouteDocuments
)

func (k RouteKind) String() string {
	switch k {
	case RouteLogin:
		return "login"
	case RouteContactDetails:
		return "contact-details"
	case RouteDocuments:
		return "documents"
	default:
		return "other"
	}
}

// Snapshot is what classification looks at.
type Snapshot struct {
	URL string
}

// RouteState is a classified snapshot.
type RouteState struct {
	Kind RouteKind
	URL  string
}

// Classifier maps page addresses to routes.
type Classifier struct {
	routes []compiledRoute
}

type compiledRoute struct {
	kind     RouteKind
	patterns []glob.Glob
}

// NewClassifier compiles the route patterns. Login is checked first, then
// contact details, then documents.
func NewClassifier(p RoutePatterns) (*Classifier, error) {
	c := &Classifier{}
	for _, r := range []struct {
		kind     RouteKind
		patterns []string
	}{
		{RouteLogin, p.Login},
		{RouteContactDetails, p.ContactDetails},
		{RouteDocuments, p.Documents},
	} {
		compiled := compiledRoute{kind: r.kind}
		for _, pattern := range r.patterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid %s pattern '%s': %w", r.kind, pattern, err)
			}
			compiled.patterns = append(compiled.patterns, g)
		}
		c.routes = append(c.routes, compiled)
	}
	return c, nil
}

// Classify returns the route of snap.
func (c *Classifier) Classify(snap Snapshot) RouteState {
	addr := stripQuery(snap.URL)
	for _, r := range c.routes {
		for _, g := range r.patterns {
			if g.Match(addr) {
				return RouteState{Kind: r.kind, URL: snap.URL}
			}
		}
	}
	return RouteState{Kind: RouteOther, URL: snap.URL}
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
