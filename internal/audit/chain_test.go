package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbusmcp/opctl/pkg/models"
)

func TestChainAppendWritesFootprint(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chain.jsonl")

	chain, err := OpenChain(path)
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}

	fp := chain.Append("sandbox", "command.run", map[string]any{"command": "echo"})
	if fp.Sequence != 1 {
		t.Errorf("expected first sequence 1, got %d", fp.Sequence)
	}

	if err := chain.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var got models.Footprint
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal footprint: %v", err)
	}
	if got.Producer != "sandbox" || got.Operation != "command.run" {
		t.Errorf("unexpected footprint: %+v", got)
	}
}

func TestChainResumesSequenceAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chain.jsonl")

	chain, err := OpenChain(path)
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}
	chain.Append("tracker", "execution.begin", nil)
	chain.Append("tracker", "execution.finish", nil)
	if err := chain.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenChain(path)
	if err != nil {
		t.Fatalf("reopen OpenChain: %v", err)
	}
	fp := reopened.Append("tracker", "execution.begin", nil)
	if fp.Sequence != 3 {
		t.Errorf("expected sequence to resume at 3, got %d", fp.Sequence)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestChainAppendNeverRewrites(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chain.jsonl")

	chain, err := OpenChain(path)
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}
	for i := 0; i < 5; i++ {
		chain.Append("zone", "access.granted", nil)
	}
	if err := chain.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var fp models.Footprint
		if err := json.Unmarshal([]byte(line), &fp); err != nil {
			t.Fatalf("unmarshal line %d: %v", i, err)
		}
		if fp.Sequence != uint64(i+1) {
			t.Errorf("line %d: expected sequence %d, got %d", i, i+1, fp.Sequence)
		}
	}
}

func TestChainFallsBackToSyncWriteWhenBufferFull(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "chain.jsonl")

	chain, err := OpenChain(path)
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}
	defer chain.Close()

	// Pause the drain loop's progress by filling the buffer fast enough
	// that some appends take the synchronous fallback path; either path
	// must still produce a readable, monotonic ledger.
	for i := 0; i < DefaultChainBufferSize+10; i++ {
		chain.Append("fabric", "tool.execute", nil)
	}
	time.Sleep(50 * time.Millisecond)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
