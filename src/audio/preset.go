package audio

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ----- Presets ----- //

type presetMetaJSON struct {
	Name string `json:"name"`
}
type presetMetaListJSON struct {
	Items []presetMetaJSON `json:"items"`
}

// presetManager reads trees saved by WriteTree from dir. _list.json names
// the presets in display order.
type presetManager struct {
	dir  string
	list []string
}

func newPresetManager(dir string) *presetManager {
	return &presetManager{
		dir: dir,
	}
}

func (pm *presetManager) getList() ([]string, error) {
	if pm.list == nil {
		if err := pm.loadList(); err != nil {
			return nil, err
		}
	}
	return pm.list, nil
}

func (pm *presetManager) loadList() error {
	bytes, err := os.ReadFile(filepath.Join(pm.dir, "_list.json"))
	if err != nil {
		return errors.Wrap(err, "failed to read preset list")
	}
	var metaListJSON presetMetaListJSON
	if err := json.Unmarshal(bytes, &metaListJSON); err != nil {
		return errors.Wrap(err, "failed to parse preset list")
	}
	pm.list = make([]string, 0, len(metaListJSON.Items))
	for _, item := range metaListJSON.Items {
		pm.list = append(pm.list, item.Name)
	}
	return nil
}

func (pm *presetManager) applyTo(name string, a *Audio) error {
	f, err := os.Open(filepath.Join(pm.dir, name+".json"))
	if err != nil {
		return errors.Wrapf(err, "failed to open preset %s", name)
	}
	defer f.Close()
	return a.ReadTree(f)
}

func (pm *presetManager) save(name string, a *Audio) error {
	f, err := os.Create(filepath.Join(pm.dir, name+".json"))
	if err != nil {
		return errors.Wrapf(err, "failed to create preset %s", name)
	}
	if err := a.WriteTree(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return pm.addToList(name)
}

// addToList appends name to _list.json unless it is already listed.
func (pm *presetManager) addToList(name string) error {
	if err := pm.loadList(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		pm.list = nil
	}
	for _, item := range pm.list {
		if item == name {
			return nil
		}
	}
	pm.list = append(pm.list, name)
	var metaListJSON presetMetaListJSON
	for _, item := range pm.list {
		metaListJSON.Items = append(metaListJSON.Items, presetMetaJSON{Name: item})
	}
	bytes, err := json.MarshalIndent(&metaListJSON, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode preset list")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(pm.dir, "_list.json"), bytes, 0644), "failed to write preset list")
}
