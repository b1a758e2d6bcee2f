package viewer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pcdview/internal/model"
	"github.com/xxxsen/pcdview/internal/pcd"
)

func pcdBytes(points ...[3]float32) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# .PCD v0.7 - Point Cloud Data file format\nVERSION 0.7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	fmt.Fprintf(&b, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n", len(points), len(points))
	for _, p := range points {
		fmt.Fprintf(&b, "%g %g %g\n", p[0], p[1], p[2])
	}
	return []byte(b.String())
}

func cloudOf(t *testing.T, name string, data []byte) *model.PointCloud {
	t.Helper()
	cloud, err := pcd.Decoder{}.Decode(name, data)
	require.NoError(t, err)
	return cloud
}

func newTestSession(client HTTPClient) *Session {
	return NewSession(NewLoader(pcd.Decoder{}, client), NewScene())
}
