package persistence

import (
	"encoding/csv"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// prepareDir refuses to write into a directory that already holds a bundle
// unless overwrite is set, in which case the old bundle is removed first.
func prepareDir(dir string, overwrite bool) error {
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		if !overwrite {
			return errors.Errorf("%s already contains a saved stage", dir)
		}
		for _, sub := range []string{"metadata", "model", "levels", "data"} {
			if err := os.RemoveAll(filepath.Join(dir, sub)); err != nil {
				return errors.Wrap(err, "failed to clear previous bundle")
			}
		}
	}
	return os.MkdirAll(dir, 0o755)
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file")
	}
	return file, nil
}

func writeYAML(path string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode metadata")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func writeGob(path string, v any) error {
	file, err := create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	return file.Sync()
}

func readGob(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", filepath.Base(path))
	}
	return nil
}

func writeRecord(path string, header []string, rows [][]string) error {
	file, err := create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return errors.Wrap(err, "failed to write record")
	}
	return nil
}

// readRecord returns the record rows after checking the header matches.
func readRecord(path string, header []string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open record")
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read record")
	}
	if len(records) == 0 {
		return nil, errors.New("record is empty")
	}
	for j, name := range header {
		if j >= len(records[0]) || records[0][j] != name {
			return nil, errors.Errorf("record header %v does not match %v", records[0], header)
		}
	}
	return records[1:], nil
}
