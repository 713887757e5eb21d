package runner

import (
	"github.com/tutu-network/tutu/internal/domain"
)

// PlainModel is a single session bound to a single network graph.
type PlainModel struct {
	baseRunner
	backend Backend
	session domain.ModelSession
	graph   string
}

// NewPlain creates a plain ModelRunner for one session.
func NewPlain(backend Backend, session domain.ModelSession, batch int) *PlainModel {
	p := &PlainModel{backend: backend, session: session, graph: session.String()}
	p.batch = batch
	return p
}

func (p *PlainModel) Kind() Kind { return Plain }

func (p *PlainModel) Preprocess(t *domain.Task) ([]byte, error) { return defaultPreprocess(t) }

// Forward executes the network once over the whole batch.
func (p *PlainModel) Forward(items []BatchItem) ([][]byte, error) {
	inputs := make([][]byte, len(items))
	for i, it := range items {
		inputs[i] = it.Data
	}
	out, err := p.backend.Forward(p.graph, inputs)
	if err != nil {
		return nil, fwdErr(p.graph, err)
	}
	return out, nil
}

func (p *PlainModel) Postprocess(t *domain.Task, output []byte) error {
	return defaultPostprocess(t, output)
}

// Session returns the bound session.
func (p *PlainModel) Session() domain.ModelSession { return p.session }
