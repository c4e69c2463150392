// Package dataset loads navigation-episode datasets from directories of
// gzip-compressed JSON files. One file holds the episodes of exactly one
// scene; the dataset indexes episodes by scene and derives the renderable
// mesh and navmesh paths from the scene id.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/gzip"
)

const fileSuffix = ".json.gz"

// Episode is a (start pose, goal) pair anchored to one scene.
// Immutable after load.
type Episode struct {
	StartPosition mgl32.Vec3
	StartRotation mgl32.Quat
	Goal          mgl32.Vec3
}

// SceneMeta locates one scene's episode span and on-disk assets.
type SceneMeta struct {
	FirstEpisode uint32
	NumEpisodes  uint32
	MeshPath     string
	NavmeshPath  string
}

// Dataset is the read-only episode store shared by every thread.
type Dataset struct {
	episodes []Episode
	scenes   []SceneMeta
}

type jsonEpisode struct {
	SceneID       string     `json:"scene_id"`
	StartPosition [3]float32 `json:"start_position"`
	StartRotation [4]float32 `json:"start_rotation"`
	Goals         []struct {
		Position [3]float32 `json:"position"`
	} `json:"goals"`
}

type jsonFile struct {
	Episodes []jsonEpisode `json:"episodes"`
}

type fileResult struct {
	episodes []Episode
	scene    SceneMeta // FirstEpisode is file-local until merge
	hasScene bool
	err      error
}

// Load reads every *.json.gz under dir with up to workers parallel
// decoders. Files are merged in sorted name order so the scene/episode
// numbering is stable across runs. meshExt is the renderer's preferred
// mesh extension (including the dot); asset paths resolve under assetDir.
func Load(dir, assetDir, meshExt string, workers int) (*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("dataset dir %s: no %s files", dir, fileSuffix)
	}
	sort.Strings(names)

	if workers < 1 {
		workers = 1
	}
	if workers > len(names) {
		workers = len(names)
	}

	results := make([]fileResult, len(names))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(names); i += workers {
				results[i] = parseFile(names[i], assetDir, meshExt)
			}
		}(w)
	}
	wg.Wait()

	ds := &Dataset{}
	for i, res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", names[i], res.err)
		}
		if !res.hasScene {
			continue
		}
		scene := res.scene
		scene.FirstEpisode += uint32(len(ds.episodes))
		ds.scenes = append(ds.scenes, scene)
		ds.episodes = append(ds.episodes, res.episodes...)
	}
	if len(ds.scenes) == 0 {
		return nil, fmt.Errorf("dataset dir %s: no scenes", dir)
	}
	return ds, nil
}

func parseFile(path, assetDir, meshExt string) fileResult {
	raw, err := readGzip(path)
	if err != nil {
		return fileResult{err: err}
	}

	if err := validateEpisodeFile(raw); err != nil {
		return fileResult{err: err}
	}

	var decoded jsonFile
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fileResult{err: fmt.Errorf("decode: %w", err)}
	}

	var out fileResult
	sceneID := ""
	for _, je := range decoded.Episodes {
		if sceneID == "" {
			sceneID = je.SceneID
		}
		if je.SceneID != sceneID {
			return fileResult{err: fmt.Errorf("episode file mixes scenes %q and %q", sceneID, je.SceneID)}
		}
		if len(je.Goals) == 0 {
			return fileResult{err: fmt.Errorf("episode without goals in %q", sceneID)}
		}
		out.episodes = append(out.episodes, Episode{
			StartPosition: mgl32.Vec3(je.StartPosition),
			StartRotation: quatXYZW(je.StartRotation),
			Goal:          mgl32.Vec3(je.Goals[0].Position),
		})
	}

	if sceneID == "" {
		return out // empty file, no scene
	}

	dot := strings.LastIndexByte(sceneID, '.')
	if dot < 0 {
		return fileResult{err: fmt.Errorf("scene id %q has no extension", sceneID)}
	}
	stem := sceneID[:dot]

	out.scene = SceneMeta{
		FirstEpisode: 0,
		NumEpisodes:  uint32(len(out.episodes)),
		MeshPath:     filepath.Join(assetDir, stem+meshExt),
		NavmeshPath:  filepath.Join(assetDir, stem+".navmesh"),
	}
	out.hasScene = true
	return out
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return raw, nil
}

// Dataset quaternions are stored [x,y,z,w].
func quatXYZW(r [4]float32) mgl32.Quat {
	return mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}
}

// Episodes returns the episode span of one scene.
func (d *Dataset) Episodes(scene uint32) []Episode {
	m := d.scenes[scene]
	return d.episodes[m.FirstEpisode : m.FirstEpisode+m.NumEpisodes]
}

// ScenePath returns the renderable mesh path of one scene.
func (d *Dataset) ScenePath(scene uint32) string { return d.scenes[scene].MeshPath }

// NavmeshPath returns the navmesh path of one scene.
func (d *Dataset) NavmeshPath(scene uint32) string { return d.scenes[scene].NavmeshPath }

// NumScenes reports how many scenes the dataset holds.
func (d *Dataset) NumScenes() int { return len(d.scenes) }

// NumEpisodes reports the total episode count across scenes.
func (d *Dataset) NumEpisodes() int { return len(d.episodes) }
