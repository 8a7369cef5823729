package renderer

import (
	"fmt"

	"github.com/pthm-cable/batchsim/geom"
)

// Instance is one placed asset.
type Instance struct {
	Asset     string
	Transform geom.Transform
}

type scene struct {
	instances []Instance
	live      []bool
	free      []int
	numLive   int
	camera    Camera
}

// Recorder is a headless Backend. It keeps every scene in memory so
// viewers, snapshot writers and tests can read it back.
type Recorder struct {
	scenes    []scene
	frames    int
	rendering bool
}

// NewRecorder returns an empty recorder with numEnvs scenes.
func NewRecorder(numEnvs int) *Recorder {
	return &Recorder{scenes: make([]scene, numEnvs)}
}

func (r *Recorder) NumEnvs() int { return len(r.scenes) }

func (r *Recorder) AddInstance(env int, asset string, xf geom.Transform) int {
	s := &r.scenes[env]
	s.numLive++
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.instances[id] = Instance{Asset: asset, Transform: xf}
		s.live[id] = true
		return id
	}
	s.instances = append(s.instances, Instance{Asset: asset, Transform: xf})
	s.live = append(s.live, true)
	return len(s.instances) - 1
}

func (r *Recorder) UpdateInstanceTransform(env, id int, xf geom.Transform) {
	s := r.mustLive(env, id)
	s.instances[id].Transform = xf
}

func (r *Recorder) DeleteInstance(env, id int) {
	s := r.mustLive(env, id)
	s.live[id] = false
	s.free = append(s.free, id)
	s.numLive--
}

func (r *Recorder) SetCamera(env int, cam Camera) {
	r.scenes[env].camera = cam
}

func (r *Recorder) Render() {
	if r.rendering {
		panic("renderer: Render called while a frame is in flight")
	}
	r.rendering = true
	r.frames++
}

func (r *Recorder) WaitForFrame() {
	if !r.rendering {
		panic("renderer: WaitForFrame called without Render")
	}
	r.rendering = false
}

func (r *Recorder) Close() error { return nil }

// Frames returns the number of Render calls.
func (r *Recorder) Frames() int { return r.frames }

// NumInstances returns env's live instance count.
func (r *Recorder) NumInstances(env int) int { return r.scenes[env].numLive }

// Instance returns instance id of env, if it is live.
func (r *Recorder) Instance(env, id int) (Instance, bool) {
	s := &r.scenes[env]
	if id < 0 || id >= len(s.instances) || !s.live[id] {
		return Instance{}, false
	}
	return s.instances[id], true
}

// Each calls fn for every live instance of env in id order.
func (r *Recorder) Each(env int, fn func(id int, inst Instance)) {
	s := &r.scenes[env]
	for id, inst := range s.instances {
		if s.live[id] {
			fn(id, inst)
		}
	}
}

// Camera returns env's last camera.
func (r *Recorder) Camera(env int) Camera { return r.scenes[env].camera }

func (r *Recorder) mustLive(env, id int) *scene {
	s := &r.scenes[env]
	if id < 0 || id >= len(s.instances) || !s.live[id] {
		panic(fmt.Sprintf("renderer: env %d has no live instance %d", env, id))
	}
	return s
}
