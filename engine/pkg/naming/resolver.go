package naming

import (
	"strings"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
)

// Resolver binds the naming rules to a workspace root and a data level, the
// two values that come from configuration rather than the command line.
type Resolver struct {
	workspace string
	level     string
}

func NewResolver(workspace, level string) (*Resolver, error) {
	workspace = strings.Trim(strings.TrimSpace(workspace), "/")
	if workspace == "" {
		return nil, werr.MissingField("workspace")
	}
	for _, elem := range strings.Split(workspace, "/") {
		switch elem {
		case "":
			return nil, werr.InvalidField("workspace", "%q contains an empty path element", workspace)
		case ".", "..":
			return nil, werr.InvalidField("workspace", "%q contains relative path element %q", workspace, elem)
		}
	}
	if err := validateToken("level", level); err != nil {
		return nil, err
	}
	if level == "." || level == ".." {
		return nil, werr.InvalidField("level", "%q is a relative path element", level)
	}
	return &Resolver{workspace: workspace, level: level}, nil
}

func (r *Resolver) Workspace() string { return r.workspace }

func (r *Resolver) Level() string { return r.level }

func (r *Resolver) SourceCollectionID(component string, target Resolution) (string, error) {
	return SourceCollectionID(r.level, component, target)
}

// SourceCollectionPath is the asset path of SourceCollectionID.
func (r *Resolver) SourceCollectionPath(component string, target Resolution) (string, error) {
	id, err := r.SourceCollectionID(component, target)
	if err != nil {
		return "", err
	}
	return JoinPath(r.workspace, r.level, id), nil
}

func (r *Resolver) DestinationCollectionID(component string, res Resolution) (string, error) {
	return DestinationCollectionID(r.level, component, res)
}

// DestinationCollectionPath is workspace/level/level_component_code.
func (r *Resolver) DestinationCollectionPath(component string, res Resolution) (string, error) {
	id, err := r.DestinationCollectionID(component, res)
	if err != nil {
		return "", err
	}
	return JoinPath(r.workspace, r.level, id), nil
}

func (r *Resolver) DestinationImageID(component string, year int) (string, error) {
	return DestinationImageID(r.level, component, year)
}

// DestinationAssetPath is the collection path followed by the image id.
func (r *Resolver) DestinationAssetPath(component string, res Resolution, year int) (string, error) {
	coll, err := r.DestinationCollectionPath(component, res)
	if err != nil {
		return "", err
	}
	img, err := r.DestinationImageID(component, year)
	if err != nil {
		return "", err
	}
	return JoinPath(coll, img), nil
}

// AssetPath is the parsed form of a path built by Resolver.
type AssetPath struct {
	Workspace  string
	Collection Identifier
	// ImageID is empty for collection paths.
	ImageID string
}

func (p AssetPath) String() string {
	return JoinPath(p.Workspace, p.Collection.Level, p.Collection.String(), p.ImageID)
}

// ParseAssetPath splits a path under workspace back into its level, component
// and resolution. It accepts both collection and image paths.
func ParseAssetPath(workspace, p string) (AssetPath, error) {
	workspace = strings.Trim(workspace, "/")
	if workspace == "" {
		return AssetPath{}, werr.MissingField("workspace")
	}
	rest, ok := strings.CutPrefix(strings.Trim(p, "/"), workspace+"/")
	if !ok {
		return AssetPath{}, werr.InvalidField("asset_path", "%q is not under workspace %q", p, workspace)
	}

	elems := strings.Split(rest, "/")
	if len(elems) < 2 || len(elems) > 3 {
		return AssetPath{}, werr.InvalidField("asset_path", "%q has %d elements below the workspace, want 2 or 3", p, len(elems))
	}

	level := elems[0]
	parts := strings.Split(elems[1], idSeparator)
	if len(parts) != 3 {
		return AssetPath{}, werr.InvalidField("asset_path", "collection id %q is not level_component_code", elems[1])
	}
	if parts[0] != level {
		return AssetPath{}, werr.InvalidField("asset_path", "collection %q does not belong to level %q", elems[1], level)
	}
	res, ok := resolutionFromCode(parts[2])
	if !ok {
		return AssetPath{}, werr.InvalidField("asset_path", "unknown resolution code %q", parts[2])
	}

	out := AssetPath{
		Workspace: workspace,
		Collection: Identifier{
			Level:      level,
			Component:  parts[1],
			Resolution: res,
		},
	}
	if err := out.Collection.Validate(); err != nil {
		return AssetPath{}, err
	}
	if len(elems) == 3 {
		if elems[2] == "" {
			return AssetPath{}, werr.InvalidField("asset_path", "%q has an empty image id", p)
		}
		out.ImageID = elems[2]
	}
	return out, nil
}
