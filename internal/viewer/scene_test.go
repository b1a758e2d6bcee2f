package viewer

import (
	"bytes"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

type recordingSurface struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingSurface) Render(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSurface) snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func TestScene_ReplaceIsIdempotent(t *testing.T) {
	s := NewScene()
	cloud := cloudOf(t, "a.pcd", pcdBytes([3]float32{1, 2, 3}))

	require.NoError(t, s.Replace(cloud))
	require.NoError(t, s.Replace(cloud))
	require.Equal(t, []*model.PointCloud{cloud}, s.Children())

	require.NoError(t, s.Replace(nil))
	require.Empty(t, s.Children())
}

func TestScene_ClearDetachesEverything(t *testing.T) {
	s := NewScene()
	surface := &recordingSurface{}
	require.NoError(t, s.Attach(surface))
	require.NoError(t, s.Replace(cloudOf(t, "a.pcd", pcdBytes([3]float32{1, 1, 1}))))
	require.NoError(t, s.Clear())

	require.Empty(t, s.Children())
	frames := surface.snapshot()
	require.Len(t, frames, 3)
	require.Empty(t, frames[2].Children)
}

func TestScene_InvertIndependentOfReplace(t *testing.T) {
	s := NewScene()
	require.Equal(t, model.LightScheme, s.Scheme())
	a := cloudOf(t, "a.pcd", pcdBytes([3]float32{1, 2, 3}))
	b := cloudOf(t, "b.pcd", pcdBytes([3]float32{4, 5, 6}))

	require.NoError(t, s.Invert())
	require.Equal(t, model.DarkScheme, s.Scheme())
	require.NoError(t, s.Replace(a))
	require.NoError(t, s.Replace(b))
	require.Equal(t, model.DarkScheme, s.Scheme())
	require.NoError(t, s.Invert())
	require.Equal(t, model.LightScheme, s.Scheme())

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Invert())
		require.NoError(t, s.Replace(a))
	}
	require.Equal(t, model.LightScheme, s.Scheme())
}

func TestScene_ConcurrentReplaceNeverMixesChildren(t *testing.T) {
	s := NewScene()
	surface := &recordingSurface{}
	require.NoError(t, s.Attach(surface))
	a := cloudOf(t, "a.pcd", pcdBytes([3]float32{1, 2, 3}))
	b := cloudOf(t, "b.pcd", pcdBytes([3]float32{4, 5, 6}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan int, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := len(s.Children()); n > 1 {
				select {
				case violations <- n:
				default:
				}
			}
		}
	}()
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.Replace(a)
			} else {
				_ = s.Replace(b)
			}
		}(i)
	}
	for i := 0; i < 200; i++ {
		children := s.Children()
		require.LessOrEqual(t, len(children), 1)
	}
	close(stop)
	wg.Wait()
	select {
	case n := <-violations:
		t.Fatalf("observed %d children at once", n)
	default:
	}

	var lastSeq uint64
	for _, f := range surface.snapshot() {
		require.LessOrEqual(t, len(f.Children), 1)
		require.Greater(t, f.Seq, lastSeq)
		lastSeq = f.Seq
	}
	require.Len(t, s.Children(), 1)
}

func TestScene_SnapshotImage(t *testing.T) {
	s := NewScene()
	_, err := s.SnapshotImage()
	require.ErrorIs(t, err, appErr.ErrRenderNotReady)

	surface := NewPlotSurface(64, 48)
	_, err = surface.Snapshot()
	require.ErrorIs(t, err, appErr.ErrRenderNotReady)

	require.NoError(t, s.Attach(surface))
	require.True(t, surface.Ready())
	require.NoError(t, s.Replace(cloudOf(t, "a.pcd", pcdBytes([3]float32{0, 0, 0}, [3]float32{1, 1, 1}, [3]float32{-1, 2, 0.5}))))
	require.Equal(t, s.Frame().Seq, surface.Seq())

	data, err := s.SnapshotImage()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())
	r, g, b, _ := img.At(0, 0).RGBA()
	require.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})

	require.NoError(t, s.Invert())
	require.Equal(t, s.Frame().Seq, surface.Seq())
	data, err = s.SnapshotImage()
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ = img.At(0, 0).RGBA()
	require.Equal(t, [3]uint32{0, 0, 0}, [3]uint32{r, g, b})
}

func TestScene_SurfaceWithoutSnapshot(t *testing.T) {
	s := NewScene()
	require.NoError(t, s.Attach(&recordingSurface{}))
	_, err := s.SnapshotImage()
	require.ErrorIs(t, err, appErr.ErrRenderNotReady)
}

func TestScene_CameraReset(t *testing.T) {
	s := NewScene()
	require.NoError(t, s.Orbit(0.5, -0.2))
	require.NotEqual(t, DefaultCamera, s.Frame().Camera)
	require.NoError(t, s.ResetCamera())
	require.Equal(t, DefaultCamera, s.Frame().Camera)
}
