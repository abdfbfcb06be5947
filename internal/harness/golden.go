package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rengine/internal/protocol"
)

// Transcript renders a scenario's trace for golden comparison: one line per
// message, "kind name payload", with the payload in canonical JSON. Sequence
// numbers are left out; they count requests, which are not part of the
// trace.
func Transcript(scenarioName string, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", scenarioName)
	for _, ev := range result.Trace {
		payload := []byte("-")
		if len(ev.Payload) > 0 {
			var err error
			payload, err = protocol.MarshalCanonical(ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("seq %d %s: %w", ev.Seq, ev.Name, err)
			}
		}
		fmt.Fprintf(&buf, "%s %s %s\n", ev.Kind, ev.Name, payload)
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its transcript against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertions too.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's transcript against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Transcript(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenPath returns the golden file of a scenario file: golden/{name}.golden
// next to it.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// CompareGolden reports whether the transcript matches the golden file at
// path. A missing golden file is reported by os.ErrNotExist.
func CompareGolden(path string, transcript []byte) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, transcript), nil
}

// UpdateGolden writes the transcript as the golden file at path.
func UpdateGolden(path string, transcript []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, transcript, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}
