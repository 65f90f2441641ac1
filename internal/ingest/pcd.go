package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"

	"github.com/banshee-data/cloudscan/internal/fsutil"
	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// ReadPCD decodes a PCD stream. x, y and z are required; a packed rgb
// field is optional and missing colours fall back to defaultColor.
func ReadPCD(r io.Reader, defaultColor pointcloud.Color) (*pointcloud.PointCloud, error) {
	pp, err := pc.Unmarshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decode pcd: %v", pointcloud.ErrInvalidArgument, err)
	}
	if !hasFields(pp, "x", "y", "z") {
		return nil, fmt.Errorf("%w: pcd has no x,y,z fields", pointcloud.ErrInvalidArgument)
	}
	vit, err := pp.Vec3Iterator()
	if err != nil {
		return nil, fmt.Errorf("%w: pcd positions: %v", pointcloud.ErrInvalidArgument, err)
	}

	n := pp.Points
	points := make([]pointcloud.Point, n)
	colors := make([]pointcloud.Color, n)
	for i := 0; i < n; i++ {
		v := vit.Vec3At(i)
		points[i] = pointcloud.Point{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
		colors[i] = defaultColor
	}

	if hasFields(pp, "rgb") {
		// rgb may be declared F or U; either way the four bytes are the
		// packed 0x00RRGGBB value.
		cit, err := pp.Uint32Iterator("rgb")
		if err != nil {
			return nil, fmt.Errorf("%w: pcd colours: %v", pointcloud.ErrInvalidArgument, err)
		}
		for i := 0; i < n; i++ {
			colors[i] = pointcloud.ColorFromPacked(cit.Uint32())
			cit.Incr()
		}
	}

	cloud, err := pointcloud.New(points, colors)
	if err != nil {
		return nil, err
	}
	return cloud, nil
}

// WritePCD encodes cloud as PCD with x y z (float32) and a packed rgb
// (uint32) field. Positions lose precision beyond float32.
func WritePCD(w io.Writer, cloud *pointcloud.PointCloud) error {
	n := cloud.Len()
	pp := &pc.PointCloud{
		PointCloudHeader: pc.PointCloudHeader{
			Version:   0.7,
			Fields:    []string{"x", "y", "z", "rgb"},
			Size:      []int{4, 4, 4, 4},
			Type:      []string{"F", "F", "F", "U"},
			Count:     []int{1, 1, 1, 1},
			Width:     n,
			Height:    1,
			Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
		},
		Points: n,
	}
	pp.Data = make([]byte, n*pp.Stride())

	if n > 0 {
		vit, err := pp.Vec3Iterator()
		if err != nil {
			return fmt.Errorf("pcd positions: %w", err)
		}
		cit, err := pp.Uint32Iterator("rgb")
		if err != nil {
			return fmt.Errorf("pcd colours: %w", err)
		}
		for i := 0; i < n; i++ {
			p := cloud.Point(i)
			vit.SetVec3(mat.Vec3{float32(p.X), float32(p.Y), float32(p.Z)})
			cit.SetUint32(cloud.Color(i).Packed())
			vit.Incr()
			cit.Incr()
		}
	}

	if err := pc.Marshal(pp, w); err != nil {
		return fmt.Errorf("encode pcd: %w", err)
	}
	return nil
}

func hasFields(pp *pc.PointCloud, names ...string) bool {
	for _, name := range names {
		found := false
		for _, f := range pp.Fields {
			if f == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Format is an input file format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPCD Format = "pcd"
)

// FormatForPath infers the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".pcd":
		return FormatPCD, nil
	default:
		return "", fmt.Errorf("%w: unsupported input file %q (want .csv or .pcd)",
			pointcloud.ErrInvalidArgument, path)
	}
}

// ReadFile loads a cloud from path, choosing the decoder by extension.
func ReadFile(fsys fsutil.FileSystem, path string, opts CSVOptions) (*pointcloud.PointCloud, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	switch format {
	case FormatPCD:
		cloud, err := ReadPCD(f, opts.DefaultColor)
		if err != nil {
			return nil, err
		}
		opts.Logs.Diagf("pcd: loaded %d points from %s", cloud.Len(), path)
		return cloud, nil
	default:
		cloud, _, err := ReadSensorCSV(f, opts)
		return cloud, err
	}
}

// WriteFile writes cloud to path as PCD.
func WriteFile(fsys fsutil.FileSystem, path string, cloud *pointcloud.PointCloud) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create pcd directory: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create pcd file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close pcd file: %w", cerr)
		}
	}()
	return WritePCD(f, cloud)
}
