package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DASFile is one file record from the grid metadata service.
type DASFile struct {
	Name    string
	Size    int64
	Entries int64
	Adler32 uint32
}

// DASClient queries dataset file lists with dasgoclient.
type DASClient struct {
	runner  Runner
	bin     string
	timeout time.Duration
}

// NewDASClient creates a metadata-query client.
func NewDASClient(runner Runner, dasgoclientPath string, timeout time.Duration) *DASClient {
	return &DASClient{runner: runner, bin: dasgoclientPath, timeout: timeout}
}

// dasRecord mirrors the relevant part of dasgoclient --json output: a list
// of records each carrying a "file" array.
type dasRecord struct {
	File []struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Nevents int64  `json:"nevents"`
		Adler32 string `json:"adler32"`
	} `json:"file"`
}

// FileList returns the files of a dataset. The DAS instance defaults by the
// dataset name convention: user datasets (/USER suffix) live in prod/phys03.
func (c *DASClient) FileList(ctx context.Context, dataset, instance string) ([]DASFile, error) {
	if instance == "" {
		instance = DefaultInstance(dataset)
	}

	query := fmt.Sprintf("file dataset=%s instance=%s", dataset, instance)
	result, err := c.runner.Run(ctx, c.bin, []string{"--json", "--query=" + query}, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("dasgoclient query %q: %w", query, err)
	}
	if !result.Ok() {
		return nil, fmt.Errorf("dasgoclient query %q exited %d: %s", query, result.ExitCode, firstLine(result.Stderr))
	}

	var records []dasRecord
	if err := json.Unmarshal([]byte(result.Stdout), &records); err != nil {
		return nil, fmt.Errorf("decode dasgoclient output for %q: %w", query, err)
	}

	seen := make(map[string]bool)
	var files []DASFile
	for _, rec := range records {
		for _, f := range rec.File {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true

			var checksum uint32
			if f.Adler32 != "" {
				v, err := strconv.ParseUint(f.Adler32, 16, 32)
				if err != nil {
					return nil, fmt.Errorf("invalid adler32 %q for %s: %w", f.Adler32, f.Name, err)
				}
				checksum = uint32(v)
			}

			files = append(files, DASFile{
				Name:    f.Name,
				Size:    f.Size,
				Entries: f.Nevents,
				Adler32: checksum,
			})
		}
	}

	return files, nil
}

// DefaultInstance returns the DAS instance for a dataset name.
func DefaultInstance(dataset string) string {
	if len(dataset) >= 5 && dataset[len(dataset)-5:] == "/USER" {
		return "prod/phys03"
	}
	return "prod/phys01"
}
