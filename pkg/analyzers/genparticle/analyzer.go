// Package genparticle extracts generator-level particle kinematics into the
// Events tree, one row per event.
package genparticle

import (
	"context"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/event"
	"github.com/physobj/physobj/pkg/framework"
	"github.com/physobj/physobj/pkg/output"
	"github.com/physobj/physobj/pkg/tree"
)

// PluginName is the registry name of the analyzer.
const PluginName = "GenParticleAnalyzer"

const (
	treeName  = "Events"
	treeTitle = "Events"
)

func init() {
	framework.Register(PluginName, func(ps framework.ParameterSet, fs *output.Service) (framework.Analyzer, error) {
		return New(ps, fs)
	}, Describe())
}

// Describe accepts any parameters without validation.
func Describe() *framework.ParameterSetDescription {
	return framework.NewDescription().SetUnknown()
}

// Analyzer fills one Events row per event with the generator particles found
// under the genParticles label.
type Analyzer struct {
	framework.BaseAnalyzer

	src  string
	tree *tree.Tree

	nGenPart int32
	pt       []float32
	eta      []float32
	mass     []float32
	pdgID    []int32
	phi      []float32
	status   []int32
}

// New creates the Events tree through fs and declares its branches.
// The optional "src" parameter overrides the collection label.
func New(ps framework.ParameterSet, fs *output.Service) (*Analyzer, error) {
	if fs == nil {
		return nil, errors.New(errors.CodeValidationFailed, "file service is required")
	}

	t, err := fs.MakeTree(treeName, treeTitle)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		src:  ps.String("src", event.GenParticlesLabel),
		tree: t,
	}

	branches := []struct {
		name  string
		title string
		add   func() (*tree.Branch, error)
	}{
		{"nGenPart", "number of interesting generator particles",
			func() (*tree.Branch, error) { return t.BranchInt32("nGenPart", &a.nGenPart) }},
		{"GenPart_pt", "generator particle transverse momentum",
			func() (*tree.Branch, error) { return t.BranchFloat32s("GenPart_pt", &a.pt) }},
		{"GenPart_eta", "generator particle pseudorapidity",
			func() (*tree.Branch, error) { return t.BranchFloat32s("GenPart_eta", &a.eta) }},
		{"GenPart_mass", "generator particle mass",
			func() (*tree.Branch, error) { return t.BranchFloat32s("GenPart_mass", &a.mass) }},
		{"GenPart_pdgId", "generator particle PDG id",
			func() (*tree.Branch, error) { return t.BranchInt32s("GenPart_pdgId", &a.pdgID) }},
		{"GenPart_phi", "generator particle azimuthal angle of momentum vector",
			func() (*tree.Branch, error) { return t.BranchFloat32s("GenPart_phi", &a.phi) }},
		{"GenPart_status", "generator particle status. 1=stable",
			func() (*tree.Branch, error) { return t.BranchInt32s("GenPart_status", &a.status) }},
	}
	for _, b := range branches {
		br, err := b.add()
		if err != nil {
			return nil, err
		}
		br.SetTitle(b.title)
	}

	return a, nil
}

// Tree returns the output tree.
func (a *Analyzer) Tree() *tree.Tree { return a.tree }

// Analyze commits one row. A missing or invalid collection yields an empty row.
func (a *Analyzer) Analyze(ctx context.Context, evt *event.Event) error {
	a.pt = a.pt[:0]
	a.eta = a.eta[:0]
	a.mass = a.mass[:0]
	a.pdgID = a.pdgID[:0]
	a.phi = a.phi[:0]
	a.status = a.status[:0]

	gens := evt.GetByLabel(a.src)
	if gens.Valid() {
		for _, p := range gens.Product() {
			a.pt = append(a.pt, p.Pt)
			a.eta = append(a.eta, p.Eta)
			a.mass = append(a.mass, p.Mass)
			a.pdgID = append(a.pdgID, p.PdgID)
			a.phi = append(a.phi, p.Phi)
			a.status = append(a.status, p.Status)
		}
	}
	a.nGenPart = int32(len(a.pt))

	if err := a.tree.Fill(ctx); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to fill tree").
			WithContext("tree", a.tree.Name()).
			WithContext("event", evt.ID.String())
	}
	return nil
}
