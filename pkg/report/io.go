package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// atomicWriteJSON writes v to path via a temp file and rename, so pollers
// never observe a half-written file.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadIndex loads report.json from a report directory.
func ReadIndex(reportDir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(reportDir, "report.json"))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &index, nil
}

// ReadFlow loads a plan detail file referenced by an index entry.
func ReadFlow(reportDir string, entry FlowEntry) (*FlowDetail, error) {
	data, err := os.ReadFile(filepath.Join(reportDir, entry.DataFile))
	if err != nil {
		return nil, fmt.Errorf("read flow %s: %w", entry.ID, err)
	}
	var fd FlowDetail
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("parse flow %s: %w", entry.ID, err)
	}
	return &fd, nil
}

// ReadReport loads the index and every plan detail.
func ReadReport(reportDir string) (*Index, []FlowDetail, error) {
	index, err := ReadIndex(reportDir)
	if err != nil {
		return nil, nil, err
	}
	flows := make([]FlowDetail, 0, len(index.Flows))
	for _, entry := range index.Flows {
		fd, err := ReadFlow(reportDir, entry)
		if err != nil {
			return nil, nil, err
		}
		flows = append(flows, *fd)
	}
	return index, flows, nil
}
