package graphql

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/ephyr-control/ephyrsub/internal/domain"
)

// Surface is one of the GraphQL endpoints an Ephyr server exposes.
type Surface string

const (
	SurfaceAPI       Surface = "/api"           // main API (restreams, settings)
	SurfaceMixin     Surface = "/api-mix"       // output mixer API
	SurfaceDashboard Surface = "/api-dashboard" // dashboard mode API
)

// AllSurfaces lists every surface in a stable order.
func AllSurfaces() []Surface {
	return []Surface{SurfaceAPI, SurfaceMixin, SurfaceDashboard}
}

func (s Surface) Path() string { return string(s) }

func (s Surface) Valid() bool {
	switch s {
	case SurfaceAPI, SurfaceMixin, SurfaceDashboard:
		return true
	}
	return false
}

type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// Operation is a GraphQL document holding exactly one operation, bound to the
// surface it must be sent to. It is read-only after construction.
type Operation struct {
	Surface  Surface
	Document string
	Kind     Kind
	Name     string
}

// NewOperation parses document to learn the operation kind and name.
// Documents with zero or several operations are rejected; fragments are
// allowed.
func NewOperation(surface Surface, document string) (Operation, error) {
	if !surface.Valid() {
		return Operation{}, fmt.Errorf("%w: unknown api surface %q", domain.ErrConfiguration, surface)
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: document})
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if len(doc.Operations) != 1 {
		return Operation{}, fmt.Errorf("%w: document must hold exactly 1 operation, got %d",
			domain.ErrConfiguration, len(doc.Operations))
	}

	def := doc.Operations[0]
	return Operation{
		Surface:  surface,
		Document: strings.TrimSpace(document),
		Kind:     Kind(def.Operation),
		Name:     def.Name,
	}, nil
}

// MustOperation is NewOperation for package-level catalogs.
func MustOperation(surface Surface, document string) Operation {
	op, err := NewOperation(surface, document)
	if err != nil {
		panic(err)
	}
	return op
}

func (o Operation) IsSubscription() bool { return o.Kind == KindSubscription }

func (o Operation) String() string {
	name := o.Name
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("%s %s on %s", o.Kind, name, o.Surface)
}
