package pipeline

import (
	"github.com/malbeclabs/wapor/engine/pkg/naming"
	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// Source is one input collection of a run.
type Source struct {
	// Code is the component letter, or the product name for annual inputs.
	Code         string
	CollectionID string
	Path         string
}

// ETIConfig describes a dekadal composite run such as AETI = E + T + I.
type ETIConfig struct {
	Component string
	Sources   []Source
	Year      int
	// AssetIDs maps each dekad to export to its destination asset.
	AssetIDs map[int]string
}

func (c ETIConfig) Validate() error {
	if c.Component == "" {
		return werr.MissingField("component")
	}
	if len(c.Sources) < 2 {
		return werr.InvalidField("component", "%q needs at least two sub-components, got %d", c.Component, len(c.Sources))
	}
	if c.Year == 0 {
		return werr.MissingField("year")
	}
	return nil
}

// AnnualConfig describes the annual sum of one dekadal component.
type AnnualConfig struct {
	Component string
	Source    Source
	Year      int
	AssetID   string
}

func (c AnnualConfig) Validate() error {
	if c.Component == "" {
		return werr.MissingField("component")
	}
	if c.Source.Path == "" {
		return werr.MissingField("source")
	}
	if c.Year == 0 {
		return werr.MissingField("year")
	}
	if c.AssetID == "" {
		return werr.MissingField("asset_id")
	}
	return nil
}

// AnnualCompositeConfig sums a dekadal composite over a year in one run.
type AnnualCompositeConfig struct {
	ETI     ETIConfig
	AssetID string
}

func (c AnnualCompositeConfig) Validate() error {
	if err := c.ETI.Validate(); err != nil {
		return err
	}
	if c.AssetID == "" {
		return werr.MissingField("asset_id")
	}
	return nil
}

// GBWPConfig describes gross biomass water productivity from annual AGBP and
// AETI.
type GBWPConfig struct {
	Component string
	AGBP      Source
	AETI      Source
	Year      int
	AssetID   string
}

func (c GBWPConfig) Validate() error {
	if c.Component == "" {
		return werr.MissingField("component")
	}
	if c.AGBP.Path == "" || c.AETI.Path == "" {
		return werr.MissingField("source")
	}
	if c.Year == 0 {
		return werr.MissingField("year")
	}
	if c.AssetID == "" {
		return werr.MissingField("asset_id")
	}
	return nil
}

// PlanETI derives the sources and per-dekad destinations of a dekadal
// composite. With no dekads given every dekad of the year is exported.
func PlanETI(r *naming.CompositeResolver, component string, year int, dekads ...int) (ETIConfig, error) {
	letters, err := naming.Decompose(component)
	if err != nil {
		return ETIConfig{}, err
	}
	sources := make([]Source, 0, len(letters))
	for _, l := range letters {
		src, err := source(r.Resolver, l, naming.Dekadal)
		if err != nil {
			return ETIConfig{}, err
		}
		sources = append(sources, src)
	}

	if len(dekads) == 0 {
		for d := 1; d <= naming.DekadsPerYear; d++ {
			dekads = append(dekads, d)
		}
	}
	ids, err := r.DestinationAssetIDs(component, naming.Dekadal, year, dekads...)
	if err != nil {
		return ETIConfig{}, err
	}
	assets := make(map[int]string, len(ids))
	for i, d := range dekads {
		assets[d] = ids[i]
	}

	cfg := ETIConfig{Component: component, Sources: sources, Year: year, AssetIDs: assets}
	return cfg, cfg.Validate()
}

// PlanAnnual derives the annual sum of a single component, e.g. L1_E_A from
// L1_E_D.
func PlanAnnual(r *naming.Resolver, component string, year int) (AnnualConfig, error) {
	src, err := source(r, component, naming.Annual)
	if err != nil {
		return AnnualConfig{}, err
	}
	asset, err := r.DestinationAssetPath(component, naming.Annual, year)
	if err != nil {
		return AnnualConfig{}, err
	}
	cfg := AnnualConfig{Component: component, Source: src, Year: year, AssetID: asset}
	return cfg, cfg.Validate()
}

// PlanAnnualComposite derives an annual composite such as AETI_A from the
// dekadal E, T and I collections.
func PlanAnnualComposite(r *naming.CompositeResolver, component string, year int) (AnnualCompositeConfig, error) {
	eti, err := PlanETI(r, component, year)
	if err != nil {
		return AnnualCompositeConfig{}, err
	}
	asset, err := r.DestinationAssetPath(component, naming.Annual, year)
	if err != nil {
		return AnnualCompositeConfig{}, err
	}
	cfg := AnnualCompositeConfig{ETI: eti, AssetID: asset}
	return cfg, cfg.Validate()
}

// PlanGBWP reads the annual AGBP and AETI products of year.
func PlanGBWP(r *naming.Resolver, component string, year int) (GBWPConfig, error) {
	agbp, err := annualSource(r, "AGBP")
	if err != nil {
		return GBWPConfig{}, err
	}
	aeti, err := annualSource(r, "AETI")
	if err != nil {
		return GBWPConfig{}, err
	}
	asset, err := r.DestinationAssetPath(component, naming.Annual, year)
	if err != nil {
		return GBWPConfig{}, err
	}
	cfg := GBWPConfig{Component: component, AGBP: agbp, AETI: aeti, Year: year, AssetID: asset}
	return cfg, cfg.Validate()
}

func source(r *naming.Resolver, component string, target naming.Resolution) (Source, error) {
	id, err := r.SourceCollectionID(component, target)
	if err != nil {
		return Source{}, err
	}
	path, err := r.SourceCollectionPath(component, target)
	if err != nil {
		return Source{}, err
	}
	return Source{Code: component, CollectionID: id, Path: path}, nil
}

func annualSource(r *naming.Resolver, component string) (Source, error) {
	id, err := r.DestinationCollectionID(component, naming.Annual)
	if err != nil {
		return Source{}, err
	}
	path, err := r.DestinationCollectionPath(component, naming.Annual)
	if err != nil {
		return Source{}, err
	}
	return Source{Code: component, CollectionID: id, Path: path}, nil
}
