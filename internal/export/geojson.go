package export

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/feature-export/internal/core/model"
)

const GeoJSONContentType = "application/geo+json"

// FeatureCollection converts point features to GeoJSON. Features without a
// point are skipped and counted.
func FeatureCollection(features []model.Feature) (*geojson.FeatureCollection, int) {
	fc := geojson.NewFeatureCollection()
	skipped := 0
	for _, f := range features {
		x, y, ok := f.Point()
		if !ok {
			skipped++
			continue
		}
		gf := geojson.NewFeature(orb.Point{x, y})
		gf.ID = f.Attributes.RequestNo
		gf.Properties = geojson.Properties(f.Attributes.Map())
		fc.Append(gf)
	}
	return fc, skipped
}

// GeoJSONExport pages through the full endpoint and encodes the points as a FeatureCollection.
func (s *Service) GeoJSONExport(ctx context.Context) (Artifact, error) {
	ctx, id := s.begin(ctx, FlowGeoJSON)
	res, err := s.FetchFull(ctx)
	if err != nil {
		s.finish(ctx, FlowGeoJSON, Artifact{ID: id}, err)
		return Artifact{ID: id}, err
	}
	fc, skipped := FeatureCollection(res.Features)
	if skipped > 0 {
		s.logger.WarnContext(ctx, "features without point geometry skipped", "skipped", skipped)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		err = fmt.Errorf("encode geojson: %w", err)
		s.finish(ctx, FlowGeoJSON, Artifact{ID: id}, err)
		return Artifact{ID: id}, err
	}
	art := Artifact{
		ID:          id,
		Name:        fullArtifactPrefix + s.now().Format(timestampLayout) + ".geojson",
		ContentType: GeoJSONContentType,
		Data:        data,
		Rows:        len(fc.Features),
	}
	s.finish(ctx, FlowGeoJSON, art, nil)
	return art, nil
}
