package episode

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/batchsim/columngrid"
	"github.com/pthm-cable/batchsim/geom"
)

// On-disk layout. Rotations are [w, x, y, z].

type vec3 [3]float64
type rot4 [4]float64

type fileAABB struct {
	Min vec3 `yaml:"min"`
	Max vec3 `yaml:"max"`
}

type fileTransform struct {
	Origin   vec3 `yaml:"origin"`
	Rotation rot4 `yaml:"rotation"`
}

type fileAssetInstance struct {
	RenderAsset int           `yaml:"render_asset"`
	Transform   fileTransform `yaml:"transform"`
}

type fileScene struct {
	Name                 string              `yaml:"name"`
	RenderAssetInstances []fileAssetInstance `yaml:"render_asset_instances"`
	CollisionBoxes       []fileAABB          `yaml:"collision_boxes"`
	ColumnGridFile       string              `yaml:"column_grid_file,omitempty"`
}

type fileFreeObject struct {
	Name           string   `yaml:"name"`
	RenderAsset    int      `yaml:"render_asset"`
	AABB           fileAABB `yaml:"aabb"`
	StartRotations []rot4   `yaml:"start_rotations"`
}

type fileSpawn struct {
	FreeObject    int  `yaml:"free_object"`
	StartRotation int  `yaml:"start_rotation"`
	StartPos      vec3 `yaml:"start_pos"`
}

type fileEpisode struct {
	StaticScene          int        `yaml:"static_scene"`
	FirstFreeObjectSpawn int        `yaml:"first_spawn"`
	NumFreeObjectSpawns  int        `yaml:"num_spawns"`
	TargetObject         int        `yaml:"target_object"`
	AgentStartPos        [2]float64 `yaml:"agent_start_pos"`
	AgentStartYaw        float64    `yaml:"agent_start_yaw"`
	RobotStartJoints     []float64  `yaml:"robot_start_joints,omitempty"`
	TargetGoalPos        vec3       `yaml:"target_goal_pos"`
	TargetGoalRotation   rot4       `yaml:"target_goal_rotation"`
}

type fileSet struct {
	RenderAssets     []string         `yaml:"render_assets"`
	StaticScenes     []fileScene      `yaml:"static_scenes"`
	FreeObjects      []fileFreeObject `yaml:"free_objects"`
	FreeObjectSpawns []fileSpawn      `yaml:"free_object_spawns"`
	Episodes         []fileEpisode    `yaml:"episodes"`
}

func (v vec3) vec() r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

func toVec3(v r3.Vec) vec3 {
	return vec3{v.X, v.Y, v.Z}
}

func (q rot4) quat() quat.Number {
	return quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
}

func toRot4(q quat.Number) rot4 {
	return rot4{q.Real, q.Imag, q.Jmag, q.Kmag}
}

func (b fileAABB) aabb() geom.AABB {
	return geom.AABB{Min: b.Min.vec(), Max: b.Max.vec()}
}

func toFileAABB(b geom.AABB) fileAABB {
	return fileAABB{Min: toVec3(b.Min), Max: toVec3(b.Max)}
}

// Load reads an episode set from a YAML file. The result still needs
// PostLoadFixup before use.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading episode set: %w", err)
	}
	return Parse(data)
}

// Parse decodes an episode set from YAML.
func Parse(data []byte) (*Set, error) {
	var f fileSet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing episode set: %w", err)
	}

	s := &Set{RenderAssets: f.RenderAssets}
	for _, fs := range f.StaticScenes {
		scene := StaticScene{Name: fs.Name, ColumnGridFile: fs.ColumnGridFile}
		for _, inst := range fs.RenderAssetInstances {
			scene.RenderAssetInstances = append(scene.RenderAssetInstances, RenderAssetInstance{
				RenderAsset: inst.RenderAsset,
				Transform: geom.Transform{
					Rotation:    inst.Transform.Rotation.quat(),
					Translation: inst.Transform.Origin.vec(),
				},
			})
		}
		for _, b := range fs.CollisionBoxes {
			scene.CollisionBoxes = append(scene.CollisionBoxes, b.aabb())
		}
		s.StaticScenes = append(s.StaticScenes, scene)
	}
	for _, fo := range f.FreeObjects {
		obj := FreeObject{Name: fo.Name, RenderAsset: fo.RenderAsset, AABB: fo.AABB.aabb()}
		for _, q := range fo.StartRotations {
			obj.StartRotations = append(obj.StartRotations, q.quat())
		}
		s.FreeObjects = append(s.FreeObjects, obj)
	}
	for _, sp := range f.FreeObjectSpawns {
		s.FreeObjectSpawns = append(s.FreeObjectSpawns, FreeObjectSpawn{
			FreeObjIndex:       sp.FreeObject,
			StartRotationIndex: sp.StartRotation,
			StartPos:           sp.StartPos.vec(),
		})
	}
	for _, fe := range f.Episodes {
		s.Episodes = append(s.Episodes, Episode{
			StaticSceneIndex:         fe.StaticScene,
			FirstFreeObjectSpawn:     fe.FirstFreeObjectSpawn,
			NumFreeObjectSpawns:      fe.NumFreeObjectSpawns,
			TargetObjIndex:           fe.TargetObject,
			AgentStartPos:            r2.Vec{X: fe.AgentStartPos[0], Y: fe.AgentStartPos[1]},
			AgentStartYaw:            fe.AgentStartYaw,
			RobotStartJointPositions: fe.RobotStartJoints,
			TargetObjGoalPos:         fe.TargetGoalPos.vec(),
			TargetObjGoalRotation:    fe.TargetGoalRotation.quat(),
		})
	}
	return s, nil
}

// Save writes the set's serializable fields as YAML. Collision spheres,
// held rotations and column grids come from the collection and baking,
// so they are not written.
func (s *Set) Save(path string) error {
	f := fileSet{RenderAssets: s.RenderAssets}
	for _, scene := range s.StaticScenes {
		fs := fileScene{Name: scene.Name, ColumnGridFile: scene.ColumnGridFile}
		for _, inst := range scene.RenderAssetInstances {
			fs.RenderAssetInstances = append(fs.RenderAssetInstances, fileAssetInstance{
				RenderAsset: inst.RenderAsset,
				Transform: fileTransform{
					Origin:   toVec3(inst.Transform.Translation),
					Rotation: toRot4(inst.Transform.Rotation),
				},
			})
		}
		for _, b := range scene.CollisionBoxes {
			fs.CollisionBoxes = append(fs.CollisionBoxes, toFileAABB(b))
		}
		f.StaticScenes = append(f.StaticScenes, fs)
	}
	for _, fo := range s.FreeObjects {
		ffo := fileFreeObject{Name: fo.Name, RenderAsset: fo.RenderAsset, AABB: toFileAABB(fo.AABB)}
		for _, q := range fo.StartRotations {
			ffo.StartRotations = append(ffo.StartRotations, toRot4(q))
		}
		f.FreeObjects = append(f.FreeObjects, ffo)
	}
	for _, sp := range s.FreeObjectSpawns {
		f.FreeObjectSpawns = append(f.FreeObjectSpawns, fileSpawn{
			FreeObject:    sp.FreeObjIndex,
			StartRotation: sp.StartRotationIndex,
			StartPos:      toVec3(sp.StartPos),
		})
	}
	for _, ep := range s.Episodes {
		f.Episodes = append(f.Episodes, fileEpisode{
			StaticScene:          ep.StaticSceneIndex,
			FirstFreeObjectSpawn: ep.FirstFreeObjectSpawn,
			NumFreeObjectSpawns:  ep.NumFreeObjectSpawns,
			TargetObject:         ep.TargetObjIndex,
			AgentStartPos:        [2]float64{ep.AgentStartPos.X, ep.AgentStartPos.Y},
			AgentStartYaw:        ep.AgentStartYaw,
			RobotStartJoints:     ep.RobotStartJointPositions,
			TargetGoalPos:        toVec3(ep.TargetObjGoalPos),
			TargetGoalRotation:   toRot4(ep.TargetObjGoalRotation),
		})
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding episode set: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing episode set: %w", err)
	}
	return nil
}

// CSVColumnGridLoader loads each scene's column grid file, resolved
// relative to dir, in the CSV layout written by columngrid.(*Set).WriteCSV.
func CSVColumnGridLoader(dir string) func(*StaticScene, columngrid.Header) (*columngrid.Set, error) {
	return func(scene *StaticScene, h columngrid.Header) (*columngrid.Set, error) {
		path := scene.ColumnGridFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening column grid: %w", err)
		}
		defer f.Close()
		return columngrid.LoadCSV(f, h)
	}
}
