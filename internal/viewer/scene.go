// Package viewer holds the client side of the point-cloud viewer: the scene
// graph, the load and export pipelines and a headless render surface.
package viewer

import (
	"sync"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

// Camera is an orbit around the scene centre, in radians.
type Camera struct {
	Yaw   float64
	Pitch float64
}

var DefaultCamera = Camera{Yaw: 0.6, Pitch: 0.9}

// Frame is an immutable copy of everything a surface needs to draw.
type Frame struct {
	Seq      uint64
	Children []*model.PointCloud
	Scheme   model.ColorScheme
	Camera   Camera
}

type Surface interface {
	Render(frame Frame) error
}

// Snapshotter is implemented by surfaces that can export their last frame.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// Scene is the set of renderable children plus display state. Mutations
// happen under the scene lock; the surface is redrawn after release with a
// copied frame.
type Scene struct {
	mu       sync.Mutex
	children []*model.PointCloud
	scheme   model.ColorScheme
	camera   Camera
	seq      uint64
	surface  Surface

	renderMu   sync.Mutex
	renderedAt uint64
	renderErr  error
}

func NewScene() *Scene {
	return &Scene{scheme: model.LightScheme, camera: DefaultCamera}
}

// Attach binds a surface and draws the current frame on it.
func (s *Scene) Attach(surface Surface) error {
	s.mu.Lock()
	s.surface = surface
	frame := s.bumpLocked()
	s.mu.Unlock()
	return s.redraw(surface, frame)
}

// Replace detaches every child and attaches cloud. A nil cloud clears.
func (s *Scene) Replace(cloud *model.PointCloud) error {
	s.mu.Lock()
	s.children = s.children[:0:0]
	if cloud != nil {
		s.children = append(s.children, cloud)
	}
	frame := s.bumpLocked()
	surface := s.surface
	s.mu.Unlock()
	return s.redraw(surface, frame)
}

func (s *Scene) Clear() error {
	return s.Replace(nil)
}

// Invert toggles between the light and dark schemes.
func (s *Scene) Invert() error {
	s.mu.Lock()
	if s.scheme.Name == model.DarkScheme.Name {
		s.scheme = model.LightScheme
	} else {
		s.scheme = model.DarkScheme
	}
	frame := s.bumpLocked()
	surface := s.surface
	s.mu.Unlock()
	return s.redraw(surface, frame)
}

func (s *Scene) Orbit(dYaw, dPitch float64) error {
	s.mu.Lock()
	s.camera.Yaw += dYaw
	s.camera.Pitch += dPitch
	frame := s.bumpLocked()
	surface := s.surface
	s.mu.Unlock()
	return s.redraw(surface, frame)
}

func (s *Scene) ResetCamera() error {
	s.mu.Lock()
	s.camera = DefaultCamera
	frame := s.bumpLocked()
	surface := s.surface
	s.mu.Unlock()
	return s.redraw(surface, frame)
}

func (s *Scene) Scheme() model.ColorScheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheme
}

func (s *Scene) Children() []*model.PointCloud {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.PointCloud(nil), s.children...)
}

func (s *Scene) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

// SnapshotImage returns the PNG of the last drawn frame.
func (s *Scene) SnapshotImage() ([]byte, error) {
	s.mu.Lock()
	surface := s.surface
	s.mu.Unlock()
	snap, ok := surface.(Snapshotter)
	if surface == nil || !ok {
		return nil, appErr.ErrRenderNotReady
	}
	return snap.Snapshot()
}

func (s *Scene) bumpLocked() Frame {
	s.seq++
	return s.frameLocked()
}

func (s *Scene) frameLocked() Frame {
	return Frame{
		Seq:      s.seq,
		Children: append([]*model.PointCloud(nil), s.children...),
		Scheme:   s.scheme,
		Camera:   s.camera,
	}
}

// redraw renders frames in sequence order; a frame older than the last one
// drawn is skipped.
func (s *Scene) redraw(surface Surface, frame Frame) error {
	if surface == nil {
		return nil
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if frame.Seq <= s.renderedAt {
		return s.renderErr
	}
	s.renderedAt = frame.Seq
	s.renderErr = surface.Render(frame)
	return s.renderErr
}
