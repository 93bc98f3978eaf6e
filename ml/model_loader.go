package ml

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// LoadPipeline reads and prepares a pipeline written by Pipeline.Save.
func LoadPipeline(path string, opts ExplainOptions) (*Pipeline, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer decoder.Close()

	var p Pipeline
	if err := json.NewDecoder(decoder).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := p.Prepare(opts); err != nil {
		return nil, err
	}
	return &p, nil
}
